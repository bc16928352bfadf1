package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/ndckv/internal/errors"
	"github.com/devrev/ndckv/internal/model"
)

const (
	// Size limits
	MaxKeySize   = 1024             // 1 KB
	MaxValueSize = 10 * 1024 * 1024 // 10 MB

	// Causal context limits
	MaxCausalContextEntries = 1000
)

// Validator validates client operations before they reach the stores
type Validator struct {
	maxKeySize   int
	maxValueSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxKeySize:   MaxKeySize,
		maxValueSize: MaxValueSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxKeySize, maxValueSize int) *Validator {
	return &Validator{
		maxKeySize:   maxKeySize,
		maxValueSize: maxValueSize,
	}
}

// ValidatePut validates a put or delete
func (v *Validator) ValidatePut(key model.Key, value model.Value, cc model.CausalContext) error {
	if err := v.ValidateKey(key); err != nil {
		return err
	}
	if err := v.ValidateValue(value); err != nil {
		return err
	}
	return v.ValidateCausalContext(cc)
}

// ValidateGet validates a quorum read
func (v *Validator) ValidateGet(key model.Key, quorum int, mode model.ConsistencyMode) error {
	if err := v.ValidateKey(key); err != nil {
		return err
	}
	if quorum < 0 {
		return errors.InvalidArgument(fmt.Sprintf("read quorum cannot be negative: %d", quorum), nil)
	}
	if !mode.Valid() {
		return errors.InvalidMode(int(mode))
	}
	return nil
}

// ValidateKey validates a key
func (v *Validator) ValidateKey(key model.Key) error {
	s := string(key)
	if s == "" {
		return errors.InvalidKey(s, "key cannot be empty")
	}

	if len(s) > v.maxKeySize {
		return errors.InvalidKey(s[:min(len(s), 32)]+"...", fmt.Sprintf("key size %d exceeds maximum %d", len(s), v.maxKeySize))
	}

	// Tab and newline are tolerated
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return errors.InvalidKey(s, "key cannot contain control characters")
		}
	}

	if strings.Contains(s, "\x00") {
		return errors.InvalidKey(s, "key cannot contain null bytes")
	}

	return nil
}

// ValidateValue validates a value; the empty value is a tombstone and always valid
func (v *Validator) ValidateValue(value model.Value) error {
	if len(value) > v.maxValueSize {
		return errors.ValueTooLarge(len(value), v.maxValueSize)
	}
	return nil
}

// ValidateCausalContext validates a client supplied causal context
func (v *Validator) ValidateCausalContext(cc model.CausalContext) error {
	if len(cc) > MaxCausalContextEntries {
		return errors.InvalidCausalContext(fmt.Sprintf("too many entries: %d > %d", len(cc), MaxCausalContextEntries))
	}
	for n := range cc {
		if n < 0 {
			return errors.InvalidCausalContext(fmt.Sprintf("negative node id %d", n))
		}
	}
	return nil
}
