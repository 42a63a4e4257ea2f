package constants

const (
	AppName        = "gmgn-wallet"
	ConfigFileName = "config.yaml"
	StoreDirName   = "store"
	CredentialsDir = "credentials"

	SchemaV1      = 1
	FilePerm      = 0o600
	DirectoryPerm = 0o700

	// Key material is a raw secp256k1 private key.
	KeyMaterialSize = 32

	// Local key-value store keys. None of these hold secrets.
	HandleCacheKey       = "gmgn-wallet"
	WalletRecordKey      = "gmgn-wallet-profile"
	DefaultNetworkKey    = "gmgn-default-network"
	AvailableNetworksKey = "gmgn-available-networks"

	// Scope the sealed DEK so it can’t be mixed with other sealed blobs.
	SealerLabel = "gmgn:credential:dek:v1"

	// AAD prefix for credential payload encryption (must match on decrypt).
	PayloadAAD = "gmgn:credential:payload:v1"

	DefaultNetwork = "kaia-kairos"
)
