package mutation

import (
	"fmt"
)

// Action selects the operation kind of a Mutation.
type Action int32

const (
	// ActionCreateDocumentDB creates a document database.
	ActionCreateDocumentDB Action = 0
	// ActionAddCollection adds a collection to a database.
	ActionAddCollection Action = 1
	// ActionAddDocument inserts documents into a collection.
	ActionAddDocument Action = 2
	// ActionDeleteDocument removes documents by id.
	ActionDeleteDocument Action = 3
	// ActionUpdateDocument overwrites documents by id, optionally through a field mask.
	ActionUpdateDocument Action = 4
)

var actionNames = map[Action]string{
	ActionCreateDocumentDB: "create_document_db",
	ActionAddCollection:    "add_collection",
	ActionAddDocument:      "add_document",
	ActionDeleteDocument:   "delete_document",
	ActionUpdateDocument:   "update_document",
}

// String returns the snake_case action name.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int32(a))
}

// Known reports whether a is one of the defined actions.
func (a Action) Known() bool {
	_, ok := actionNames[a]
	return ok
}

// IndexType is the key kind of a collection index.
type IndexType int32

const (
	IndexTypeUniqueKey IndexType = 0
	IndexTypeStringKey IndexType = 1
	IndexTypeInt64Key  IndexType = 2
	IndexTypeDoubleKey IndexType = 3
)

var indexTypeNames = map[IndexType]string{
	IndexTypeUniqueKey: "unique_key",
	IndexTypeStringKey: "string_key",
	IndexTypeInt64Key:  "int64_key",
	IndexTypeDoubleKey: "double_key",
}

func (t IndexType) String() string {
	if name, ok := indexTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("index_type(%d)", int32(t))
}

// Known reports whether t is one of the defined index types.
func (t IndexType) Known() bool {
	_, ok := indexTypeNames[t]
	return ok
}

// ParseIndexType maps a snake_case name back to its IndexType.
func ParseIndexType(name string) (IndexType, bool) {
	for indexType, candidate := range indexTypeNames {
		if candidate == name {
			return indexType, true
		}
	}
	return 0, false
}

// Index declares a document path to index within a collection.
type Index struct {
	Path string
	Type IndexType
}

// CollectionMutation describes a collection to create.
type CollectionMutation struct {
	Indexes        []Index
	CollectionName string
}

// DocumentMask lists the top-level fields an update overwrites.
// An empty mask asks the node for a full-document replace.
type DocumentMask struct {
	Fields []string
}

// DocumentMutation carries documents, ids and masks for one collection.
// Documents hold canonical document bytes (see package document).
type DocumentMutation struct {
	CollectionName string
	Documents      [][]byte
	IDs            []string
	Masks          []DocumentMask
}

// Mutation is one state-changing request against a document database.
// Action discriminates which of the shared fields are meaningful.
type Mutation struct {
	DatabaseAddress     []byte
	Action              Action
	CollectionMutations []CollectionMutation
	DocumentMutations   []DocumentMutation
	Description         string
}
