// Package mutation builds and encodes the descriptors submitted to a
// storage node.
//
// A Mutation is a discriminated record: Action selects which of the shared
// fields carry meaning. One Build* constructor exists per action; each
// validates its own arguments and returns errs.ErrInvalidArgument (bad
// address, empty names or ids) or errs.ErrSerialization (document not
// representable) before anything is encoded. Builders are pure and safe for
// concurrent use.
//
// The wire form is a protobuf message written field by field with
// protowire, which keeps the output byte-for-byte deterministic:
//
//	Mutation           { bytes db_address = 1; Action action = 2;
//	                     repeated CollectionMutation collection_mutations = 3;
//	                     repeated DocumentMutation document_mutations = 4;
//	                     string db_desc = 5; }
//	CollectionMutation { repeated Index index = 1; string collection_name = 2; }
//	Index              { string path = 1; IndexType index_type = 2; }
//	DocumentMutation   { string collection_name = 1; repeated bytes documents = 2;
//	                     repeated string ids = 3; repeated DocumentMask masks = 4; }
//	DocumentMask       { repeated string fields = 1; }
package mutation
