package sensors

import "fmt"

// Technology identifies the sensing hardware family. It is the grouping key
// in the sensor-registration payload.
type Technology string

// Known sensing technologies.
const (
	TechnologyUltrasonic Technology = "ultrasonic"
	TechnologyCamera     Technology = "camera"
)

// Kind identifies what a sensor measures or produces.
type Kind string

// Known sensor kinds.
const (
	KindDistance Kind = "distance"
	KindCamera   Kind = "camera"
)

// Descriptor describes one attached peripheral for registration purposes.
// The agent takes an immutable snapshot of all descriptors at startup; the
// set does not change after the device is fully registered.
type Descriptor struct {
	Technology Technology
	Kind       Kind
	Index      int
	Name       string
}

// Validate checks that the descriptor is complete enough to register.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidDescriptor)
	}
	if d.Technology == "" {
		return fmt.Errorf("%w: %q has no technology", ErrInvalidDescriptor, d.Name)
	}
	if d.Kind == "" {
		return fmt.Errorf("%w: %q has no kind", ErrInvalidDescriptor, d.Name)
	}
	if d.Index < 0 {
		return fmt.Errorf("%w: %q has negative index %d", ErrInvalidDescriptor, d.Name, d.Index)
	}
	return nil
}

// ValidateAll validates a descriptor set, additionally rejecting duplicate
// (technology, index) pairs, which would collide on the data topics the
// sampling loop publishes to after registration.
func ValidateAll(descriptors []Descriptor) error {
	seen := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return err
		}
		key := fmt.Sprintf("%s/%d", d.Technology, d.Index)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate %s index %d", ErrInvalidDescriptor, d.Technology, d.Index)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// GroupByTechnology partitions descriptors by technology, preserving the
// original order within each group. The registration payload is keyed this
// way so the authority can route each group to its own registrar.
func GroupByTechnology(descriptors []Descriptor) map[Technology][]Descriptor {
	groups := make(map[Technology][]Descriptor)
	for _, d := range descriptors {
		groups[d.Technology] = append(groups[d.Technology], d)
	}
	return groups
}
