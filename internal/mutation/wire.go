package mutation

import (
	"github.com/db3-network/db3-go/internal/errs"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the mutation wire messages.
const (
	fieldMutationDatabaseAddress     protowire.Number = 1
	fieldMutationAction              protowire.Number = 2
	fieldMutationCollectionMutations protowire.Number = 3
	fieldMutationDocumentMutations   protowire.Number = 4
	fieldMutationDescription         protowire.Number = 5

	fieldCollectionIndex protowire.Number = 1
	fieldCollectionName  protowire.Number = 2

	fieldIndexPath protowire.Number = 1
	fieldIndexType protowire.Number = 2

	fieldDocumentCollectionName protowire.Number = 1
	fieldDocumentDocuments      protowire.Number = 2
	fieldDocumentIDs            protowire.Number = 3
	fieldDocumentMasks          protowire.Number = 4

	fieldMaskFields protowire.Number = 1
)

// Encode produces the protobuf wire form of m. Fields are written in
// ascending field-number order and zero scalars are omitted, so the same
// Mutation always yields identical bytes.
func Encode(m Mutation) ([]byte, error) {
	if !m.Action.Known() {
		return nil, errs.Serialization("mutation: unknown action %s", m.Action)
	}
	var b []byte
	if len(m.DatabaseAddress) > 0 {
		b = protowire.AppendTag(b, fieldMutationDatabaseAddress, protowire.BytesType)
		b = protowire.AppendBytes(b, m.DatabaseAddress)
	}
	if m.Action != 0 {
		b = protowire.AppendTag(b, fieldMutationAction, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Action))
	}
	for _, collection := range m.CollectionMutations {
		encoded, err := encodeCollectionMutation(collection)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldMutationCollectionMutations, protowire.BytesType)
		b = protowire.AppendBytes(b, encoded)
	}
	for _, doc := range m.DocumentMutations {
		b = protowire.AppendTag(b, fieldMutationDocumentMutations, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeDocumentMutation(doc))
	}
	if m.Description != "" {
		b = protowire.AppendTag(b, fieldMutationDescription, protowire.BytesType)
		b = protowire.AppendString(b, m.Description)
	}
	return b, nil
}

func encodeCollectionMutation(c CollectionMutation) ([]byte, error) {
	var b []byte
	for _, index := range c.Indexes {
		if !index.Type.Known() {
			return nil, errs.Serialization("mutation: index %q has unknown type %s", index.Path, index.Type)
		}
		var indexBytes []byte
		if index.Path != "" {
			indexBytes = protowire.AppendTag(indexBytes, fieldIndexPath, protowire.BytesType)
			indexBytes = protowire.AppendString(indexBytes, index.Path)
		}
		if index.Type != 0 {
			indexBytes = protowire.AppendTag(indexBytes, fieldIndexType, protowire.VarintType)
			indexBytes = protowire.AppendVarint(indexBytes, uint64(index.Type))
		}
		b = protowire.AppendTag(b, fieldCollectionIndex, protowire.BytesType)
		b = protowire.AppendBytes(b, indexBytes)
	}
	if c.CollectionName != "" {
		b = protowire.AppendTag(b, fieldCollectionName, protowire.BytesType)
		b = protowire.AppendString(b, c.CollectionName)
	}
	return b, nil
}

func encodeDocumentMutation(d DocumentMutation) []byte {
	var b []byte
	if d.CollectionName != "" {
		b = protowire.AppendTag(b, fieldDocumentCollectionName, protowire.BytesType)
		b = protowire.AppendString(b, d.CollectionName)
	}
	for _, doc := range d.Documents {
		b = protowire.AppendTag(b, fieldDocumentDocuments, protowire.BytesType)
		b = protowire.AppendBytes(b, doc)
	}
	for _, id := range d.IDs {
		b = protowire.AppendTag(b, fieldDocumentIDs, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	for _, mask := range d.Masks {
		var maskBytes []byte
		for _, field := range mask.Fields {
			maskBytes = protowire.AppendTag(maskBytes, fieldMaskFields, protowire.BytesType)
			maskBytes = protowire.AppendString(maskBytes, field)
		}
		b = protowire.AppendTag(b, fieldDocumentMasks, protowire.BytesType)
		b = protowire.AppendBytes(b, maskBytes)
	}
	return b
}

// Decode parses the protobuf wire form produced by Encode. Unknown fields
// are skipped.
func Decode(data []byte) (Mutation, error) {
	var m Mutation
	err := walkFields(data, "mutation", func(num protowire.Number, typ protowire.Type, value []byte, varint uint64) error {
		switch {
		case num == fieldMutationDatabaseAddress && typ == protowire.BytesType:
			m.DatabaseAddress = append([]byte(nil), value...)
		case num == fieldMutationAction && typ == protowire.VarintType:
			m.Action = Action(int32(varint))
		case num == fieldMutationCollectionMutations && typ == protowire.BytesType:
			collection, err := decodeCollectionMutation(value)
			if err != nil {
				return err
			}
			m.CollectionMutations = append(m.CollectionMutations, collection)
		case num == fieldMutationDocumentMutations && typ == protowire.BytesType:
			doc, err := decodeDocumentMutation(value)
			if err != nil {
				return err
			}
			m.DocumentMutations = append(m.DocumentMutations, doc)
		case num == fieldMutationDescription && typ == protowire.BytesType:
			m.Description = string(value)
		}
		return nil
	})
	if err != nil {
		return Mutation{}, err
	}
	if !m.Action.Known() {
		return Mutation{}, errs.Serialization("mutation: unknown action %s", m.Action)
	}
	return m, nil
}

func decodeCollectionMutation(data []byte) (CollectionMutation, error) {
	var c CollectionMutation
	err := walkFields(data, "collection mutation", func(num protowire.Number, typ protowire.Type, value []byte, _ uint64) error {
		switch {
		case num == fieldCollectionIndex && typ == protowire.BytesType:
			var index Index
			err := walkFields(value, "index", func(num protowire.Number, typ protowire.Type, value []byte, varint uint64) error {
				switch {
				case num == fieldIndexPath && typ == protowire.BytesType:
					index.Path = string(value)
				case num == fieldIndexType && typ == protowire.VarintType:
					index.Type = IndexType(int32(varint))
				}
				return nil
			})
			if err != nil {
				return err
			}
			c.Indexes = append(c.Indexes, index)
		case num == fieldCollectionName && typ == protowire.BytesType:
			c.CollectionName = string(value)
		}
		return nil
	})
	return c, err
}

func decodeDocumentMutation(data []byte) (DocumentMutation, error) {
	var d DocumentMutation
	err := walkFields(data, "document mutation", func(num protowire.Number, typ protowire.Type, value []byte, _ uint64) error {
		switch {
		case num == fieldDocumentCollectionName && typ == protowire.BytesType:
			d.CollectionName = string(value)
		case num == fieldDocumentDocuments && typ == protowire.BytesType:
			d.Documents = append(d.Documents, append([]byte{}, value...))
		case num == fieldDocumentIDs && typ == protowire.BytesType:
			d.IDs = append(d.IDs, string(value))
		case num == fieldDocumentMasks && typ == protowire.BytesType:
			mask := DocumentMask{Fields: []string{}}
			err := walkFields(value, "document mask", func(num protowire.Number, typ protowire.Type, value []byte, _ uint64) error {
				if num == fieldMaskFields && typ == protowire.BytesType {
					mask.Fields = append(mask.Fields, string(value))
				}
				return nil
			})
			if err != nil {
				return err
			}
			d.Masks = append(d.Masks, mask)
		}
		return nil
	})
	return d, err
}

type fieldVisitor func(num protowire.Number, typ protowire.Type, value []byte, varint uint64) error

// walkFields iterates the top-level fields of one message. Length-delimited
// values arrive in value, varints in varint; other wire types are skipped.
func walkFields(data []byte, message string, visit fieldVisitor) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errs.Serialization("%s: bad tag: %v", message, protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			value, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return errs.Serialization("%s: field %d: %v", message, num, protowire.ParseError(m))
			}
			if err := visit(num, typ, value, 0); err != nil {
				return err
			}
			data = data[m:]
		case protowire.VarintType:
			varint, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return errs.Serialization("%s: field %d: %v", message, num, protowire.ParseError(m))
			}
			if err := visit(num, typ, nil, varint); err != nil {
				return err
			}
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return errs.Serialization("%s: field %d: %v", message, num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return nil
}
