// Package composition defines the resolved dependency-wiring plan that the
// composition cache persists and restores.
//
// # Overview
//
// A Graph is an ordered set of Parts. Each Part describes one component: the
// type that declares it, how to construct it, which members are populated
// after construction, what it exports, and the sharing boundary it lives in.
// Imports are resolved ahead of time, so every Import already points at the
// Exports that satisfy it. Loading a cached Graph therefore needs no type
// discovery and no validation pass.
//
// # Identity
//
// Types and members are identified by portable descriptors instead of loaded
// runtime handles:
//
//   - ModuleIdentity: display name plus an optional location hint
//   - TypeDescriptor: owning module, metadata handle, array flag and generic shape
//   - MemberDescriptor: constructor, field, property or method of a declaring type
//   - ParameterDescriptor: a parameter of a method in a module
//
// Descriptors are resolved into loaded types only on demand, through a
// Resolver supplied by the hosting environment.
//
// # Metadata
//
// Exports and Imports carry a Metadata mapping. Metadata returned by the cache
// reader resolves type-valued entries lazily: a *DeferredType stays unresolved
// until a consumer reads that key through Get or Range.
//
// # Immutability
//
// All values are built once, either by a producer or by the cache reader, and
// are treated as read-only afterwards. Object identity is significant: an
// Export referenced from a Part and from an Import is the same pointer, and the
// cache preserves that sharing across a round trip.
package composition
