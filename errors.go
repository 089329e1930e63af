package hboxpack

import (
	"fmt"
)

// MalformedHexError indicates that the input could not be decoded as Intel HEX.
type MalformedHexError struct {
	Err error
}

func (e *MalformedHexError) Error() string {
	return fmt.Sprintf("malformed intel hex: %v", e.Err)
}

func (e *MalformedHexError) Unwrap() error { return e.Err }

// UnclassifiedRegionError describes a segment that lies outside every known
// memory region. It is reported as a warning, the segment is still kept.
type UnclassifiedRegionError struct {
	Start, End uint32
}

func (e *UnclassifiedRegionError) Error() string {
	return fmt.Sprintf("segment 0x%08X-0x%08X matches no known memory region", e.Start, e.End)
}

// ComponentSizeExceededError indicates that a component does not fit in its slot region.
type ComponentSizeExceededError struct {
	Component ComponentKind
	Size      uint32
	MaxSize   uint32
}

func (e *ComponentSizeExceededError) Error() string {
	return fmt.Sprintf("%s is %d bytes, exceeding its %d byte region", e.Component, e.Size, e.MaxSize)
}

// MissingComponentError indicates that a required component was not found.
type MissingComponentError struct {
	Component ComponentKind
}

func (e *MissingComponentError) Error() string {
	return fmt.Sprintf("required component %s not found", e.Component)
}

// ChecksumMismatchError is returned by Verify when an archived file does not
// hash to the digest recorded in the manifest.
type ChecksumMismatchError struct {
	Component string
	Expected  string
	Actual    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Component, e.Expected, e.Actual)
}

// MetadataSizeError indicates that the record layout does not add up to MetadataSize.
type MetadataSizeError struct {
	Expected int
	Actual   int
}

func (e *MetadataSizeError) Error() string {
	return fmt.Sprintf("metadata layout is %d bytes, expected %d", e.Actual, e.Expected)
}

// UnknownComponentError is returned for component names outside the slot table.
type UnknownComponentError struct {
	Name string
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("unknown component %q", e.Name)
}

// UnknownSlotError is returned for slot names other than A and B.
type UnknownSlotError struct {
	Name string
}

func (e *UnknownSlotError) Error() string {
	return fmt.Sprintf("unknown slot %q", e.Name)
}

// ValidationError is returned when a decoded metadata record fails validation.
type ValidationError struct {
	Result ValidationResult
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("metadata invalid (%s): %s", e.Result, e.Detail)
}
