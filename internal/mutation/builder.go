package mutation

import (
	"strings"

	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/document"
	"github.com/db3-network/db3-go/internal/errs"
	"golang.org/x/text/unicode/norm"
)

const maxNameLength = 190

// BuildCreateDatabase returns a create-database mutation. The node assigns
// the new database address.
func BuildCreateDatabase(description string) Mutation {
	return Mutation{
		Action:      ActionCreateDocumentDB,
		Description: description,
	}
}

// BuildAddCollection returns a mutation adding one collection with the given indexes.
func BuildAddCollection(databaseAddress, collectionName string, indexes []Index) (Mutation, error) {
	db, err := parseDatabaseAddress(databaseAddress)
	if err != nil {
		return Mutation{}, err
	}
	name, err := canonicalName("collection name", collectionName)
	if err != nil {
		return Mutation{}, err
	}
	canonicalIndexes, err := canonicalIndexes(indexes)
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{
		DatabaseAddress: db.Bytes(),
		Action:          ActionAddCollection,
		CollectionMutations: []CollectionMutation{{
			Indexes:        canonicalIndexes,
			CollectionName: name,
		}},
	}, nil
}

// BuildAddDocument returns a mutation inserting one document. The document
// must be an object; it is encoded before being embedded.
func BuildAddDocument(databaseAddress, collectionName string, doc document.Value) (Mutation, error) {
	db, err := parseDatabaseAddress(databaseAddress)
	if err != nil {
		return Mutation{}, err
	}
	name, err := canonicalName("collection name", collectionName)
	if err != nil {
		return Mutation{}, err
	}
	encoded, err := document.EncodeObject(doc)
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{
		DatabaseAddress: db.Bytes(),
		Action:          ActionAddDocument,
		DocumentMutations: []DocumentMutation{{
			CollectionName: name,
			Documents:      [][]byte{encoded},
			IDs:            []string{},
			Masks:          []DocumentMask{},
		}},
	}, nil
}

// BuildUpdateDocument returns a mutation overwriting document id.
//
// maskFields names the top-level fields to overwrite. When maskFields is
// empty the node treats the update as a full-document replace. That policy
// belongs to the node and is not enforced here, so pass every field you
// mean to keep when you only intend a partial update.
func BuildUpdateDocument(databaseAddress, collectionName string, doc document.Value, id string, maskFields []string) (Mutation, error) {
	db, err := parseDatabaseAddress(databaseAddress)
	if err != nil {
		return Mutation{}, err
	}
	name, err := canonicalName("collection name", collectionName)
	if err != nil {
		return Mutation{}, err
	}
	documentID := strings.TrimSpace(id)
	if documentID == "" {
		return Mutation{}, errs.InvalidArgument("document id is empty")
	}
	fields, err := canonicalMask(maskFields)
	if err != nil {
		return Mutation{}, err
	}
	encoded, err := document.EncodeObject(doc)
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{
		DatabaseAddress: db.Bytes(),
		Action:          ActionUpdateDocument,
		DocumentMutations: []DocumentMutation{{
			CollectionName: name,
			Documents:      [][]byte{encoded},
			IDs:            []string{documentID},
			Masks:          []DocumentMask{{Fields: fields}},
		}},
	}, nil
}

// BuildDeleteDocument returns a mutation removing the given document ids.
func BuildDeleteDocument(databaseAddress, collectionName string, ids []string) (Mutation, error) {
	db, err := parseDatabaseAddress(databaseAddress)
	if err != nil {
		return Mutation{}, err
	}
	name, err := canonicalName("collection name", collectionName)
	if err != nil {
		return Mutation{}, err
	}
	if len(ids) == 0 {
		return Mutation{}, errs.InvalidArgument("delete requires at least one document id")
	}
	documentIDs := make([]string, 0, len(ids))
	for i, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			return Mutation{}, errs.InvalidArgument("document id at position %d is empty", i)
		}
		documentIDs = append(documentIDs, trimmed)
	}
	return Mutation{
		DatabaseAddress: db.Bytes(),
		Action:          ActionDeleteDocument,
		DocumentMutations: []DocumentMutation{{
			CollectionName: name,
			Documents:      [][]byte{},
			IDs:            documentIDs,
			Masks:          []DocumentMask{},
		}},
	}, nil
}

func parseDatabaseAddress(raw string) (address.Address, error) {
	db, err := address.FromHex(raw)
	if err != nil {
		return address.Zero, err
	}
	if db.IsZero() {
		return address.Zero, errs.InvalidArgument("database address is the zero address")
	}
	return db, nil
}

// canonicalName trims and NFC-normalizes a name so visually equal names
// always encode to the same bytes.
func canonicalName(label, raw string) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(raw))
	if name == "" {
		return "", errs.InvalidArgument("%s is empty", label)
	}
	if len(name) > maxNameLength {
		return "", errs.InvalidArgument("%s exceeds %d bytes", label, maxNameLength)
	}
	return name, nil
}

func canonicalIndexes(indexes []Index) ([]Index, error) {
	out := make([]Index, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for i, index := range indexes {
		path, err := canonicalName("index path", index.Path)
		if err != nil {
			return nil, errs.InvalidArgument("index %d: path is empty or too long", i)
		}
		if !index.Type.Known() {
			return nil, errs.InvalidArgument("index %q: unknown type %s", path, index.Type)
		}
		if _, dup := seen[path]; dup {
			return nil, errs.InvalidArgument("index %q declared twice", path)
		}
		seen[path] = struct{}{}
		out = append(out, Index{Path: path, Type: index.Type})
	}
	return out, nil
}

func canonicalMask(maskFields []string) ([]string, error) {
	fields := make([]string, 0, len(maskFields))
	seen := make(map[string]struct{}, len(maskFields))
	for i, raw := range maskFields {
		field, err := canonicalName("mask field", raw)
		if err != nil {
			return nil, errs.InvalidArgument("mask field at position %d is empty or too long", i)
		}
		if _, dup := seen[field]; dup {
			return nil, errs.InvalidArgument("mask field %q listed twice", field)
		}
		seen[field] = struct{}{}
		fields = append(fields, field)
	}
	return fields, nil
}
