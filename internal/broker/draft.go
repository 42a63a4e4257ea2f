package broker

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/gmgn-wallet/internal/units"
)

type Kind int

const (
	Transfer Kind = iota
	Message
)

func (k Kind) String() string {
	if k == Message {
		return "message"
	}
	return "transfer"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

var (
	ErrDraftKind        = errors.New("draft: field does not apply to this kind")
	ErrInvalidRecipient = errors.New("draft: invalid recipient address")
	ErrInvalidValue     = errors.New("draft: invalid value")
	ErrEstimateInFlight = errors.New("draft: estimate in progress")
	ErrSubmitInFlight   = errors.New("draft: submission in progress")
)

// Draft is a pending value transfer or data message. Every mutation bumps the
// revision, which invalidates estimates computed before it.
type Draft struct {
	mu         sync.Mutex
	kind       Kind
	recipient  string
	value      string
	message    string
	revision   uint64
	estimating bool
	submitting bool
}

func NewTransfer(recipient, value string) *Draft {
	return &Draft{kind: Transfer, recipient: strings.TrimSpace(recipient), value: strings.TrimSpace(value)}
}

func NewMessage(recipient, message string) *Draft {
	return &Draft{kind: Message, recipient: strings.TrimSpace(recipient), message: message}
}

// DraftView is a copy of the draft fields.
type DraftView struct {
	Kind      Kind   `json:"kind"`
	Recipient string `json:"recipient"`
	Value     string `json:"value,omitempty"`
	Message   string `json:"message,omitempty"`
	Revision  uint64 `json:"revision"`
}

func (d *Draft) View() DraftView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DraftView{Kind: d.kind, Recipient: d.recipient, Value: d.value, Message: d.message, Revision: d.revision}
}

func (d *Draft) Kind() Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kind
}

func (d *Draft) Revision() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revision
}

func (d *Draft) SetRecipient(addr string) {
	_ = d.Apply(Patch{To: &addr})
}

func (d *Draft) SetValue(value string) error {
	return d.Apply(Patch{Value: &value})
}

func (d *Draft) SetMessage(msg string) error {
	return d.Apply(Patch{Message: &msg})
}

// Patch carries the fields of an edit; nil fields are left alone.
type Patch struct {
	To      *string
	Value   *string
	Message *string
}

// Apply checks every field of p against the draft kind before changing
// anything, then applies them as one revision.
func (d *Draft) Apply(p Patch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.Value != nil && d.kind != Transfer {
		return fmt.Errorf("%w: value on %s", ErrDraftKind, d.kind)
	}
	if p.Message != nil && d.kind != Message {
		return fmt.Errorf("%w: message on %s", ErrDraftKind, d.kind)
	}
	if p.To == nil && p.Value == nil && p.Message == nil {
		return nil
	}

	if p.To != nil {
		d.recipient = strings.TrimSpace(*p.To)
	}
	if p.Value != nil {
		d.value = strings.TrimSpace(*p.Value)
	}
	if p.Message != nil {
		d.message = *p.Message
	}
	d.revision++
	return nil
}

// clear empties the draft after a broadcast.
func (d *Draft) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recipient, d.value, d.message = "", "", ""
	d.revision++
}

type call struct {
	to    common.Address
	value *big.Int
	data  []byte
}

// resolve parses the draft as of revision rev.
func (d *Draft) resolve() (call, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolveLocked()
}

func (d *Draft) resolveLocked() (call, uint64, error) {
	if !common.IsHexAddress(d.recipient) {
		return call{}, d.revision, fmt.Errorf("%w: %q", ErrInvalidRecipient, d.recipient)
	}
	c := call{to: common.HexToAddress(d.recipient), value: new(big.Int)}

	switch d.kind {
	case Transfer:
		v, err := units.ParseEther(d.value)
		if err != nil {
			return call{}, d.revision, fmt.Errorf("%w: %w", ErrInvalidValue, err)
		}
		c.value = v
	case Message:
		c.data = []byte(d.message)
	}
	return c, d.revision, nil
}

func (d *Draft) beginEstimate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.estimating {
		return ErrEstimateInFlight
	}
	if d.submitting {
		return ErrSubmitInFlight
	}
	d.estimating = true
	return nil
}

func (d *Draft) endEstimate() {
	d.mu.Lock()
	d.estimating = false
	d.mu.Unlock()
}

// beginSubmit locks the draft for submission if it is still at rev.
func (d *Draft) beginSubmit(rev uint64) (call, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.estimating {
		return call{}, ErrEstimateInFlight
	}
	if d.submitting {
		return call{}, ErrSubmitInFlight
	}
	if d.revision != rev {
		return call{}, ErrEstimateNotReady
	}
	c, _, err := d.resolveLocked()
	if err != nil {
		return call{}, err
	}
	d.submitting = true
	return c, nil
}

func (d *Draft) endSubmit() {
	d.mu.Lock()
	d.submitting = false
	d.mu.Unlock()
}
