package devnode

import (
	"encoding/json"
	"errors"

	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/document"
	"github.com/db3-network/db3-go/internal/mutation"
	"github.com/db3-network/db3-go/internal/transport"
	"gorm.io/gorm"
)

// Response item keys.
const (
	ItemDatabase   = "database"
	ItemCollection = "collection"
	ItemDocument   = "document"
)

// applier executes one decoded mutation inside the submission transaction.
type applier struct {
	tx         *gorm.DB
	service    *Service
	sender     address.Address
	nonce      uint64
	mutationID string
	now        int64

	databaseAddress string
}

type indexPayload struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

func (a *applier) run(m mutation.Mutation) ([]transport.Item, error) {
	if m.Action == mutation.ActionCreateDocumentDB {
		return a.createDatabase(m.Description)
	}

	target, err := address.FromBytes(m.DatabaseAddress)
	if err != nil {
		return nil, reject(transport.CodeInvalidMutation, "database address: %v", err)
	}
	a.databaseAddress = target.String()
	database, err := a.loadDatabase()
	if err != nil {
		return nil, err
	}

	switch m.Action {
	case mutation.ActionAddCollection:
		return a.addCollection(database, m.CollectionMutations[0])
	case mutation.ActionAddDocument:
		return a.addDocuments(m.DocumentMutations)
	case mutation.ActionUpdateDocument:
		return nil, a.updateDocuments(m.DocumentMutations)
	case mutation.ActionDeleteDocument:
		return nil, a.deleteDocuments(m.DocumentMutations)
	default:
		return nil, reject(transport.CodeInvalidMutation, "unsupported action %s", m.Action)
	}
}

func (a *applier) createDatabase(description string) ([]transport.Item, error) {
	derived := DatabaseAddressFor(a.sender, a.nonce).String()
	a.databaseAddress = derived

	record := DatabaseRecord{
		Address:          derived,
		Owner:            a.sender.String(),
		Description:      description,
		MutationID:       a.mutationID,
		CreatedAtSeconds: a.now,
	}
	if err := a.tx.Create(&record).Error; err != nil {
		return nil, newServiceError(opSubmit, "database_insert_failed", err)
	}
	return []transport.Item{{Key: ItemDatabase, Value: derived}}, nil
}

func (a *applier) loadDatabase() (DatabaseRecord, error) {
	var database DatabaseRecord
	err := a.tx.Where("address = ?", a.databaseAddress).Take(&database).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DatabaseRecord{}, reject(transport.CodeRejected, "database %s does not exist", a.databaseAddress)
	}
	if err != nil {
		return DatabaseRecord{}, newServiceError(opSubmit, "database_select_failed", err)
	}
	return database, nil
}

func (a *applier) addCollection(database DatabaseRecord, collection mutation.CollectionMutation) ([]transport.Item, error) {
	if database.Owner != a.sender.String() {
		return nil, reject(transport.CodeRejected, "only the owner may add collections to %s", database.Address)
	}

	var existing int64
	if err := a.tx.Model(&CollectionRecord{}).
		Where("database_address = ? AND name = ?", database.Address, collection.CollectionName).
		Count(&existing).Error; err != nil {
		return nil, newServiceError(opSubmit, "collection_select_failed", err)
	}
	if existing > 0 {
		return nil, reject(transport.CodeRejected, "collection %q already exists", collection.CollectionName)
	}

	indexes := make([]indexPayload, 0, len(collection.Indexes))
	for _, index := range collection.Indexes {
		indexes = append(indexes, indexPayload{Path: index.Path, Type: index.Type.String()})
	}
	indexesJSON, err := json.Marshal(indexes)
	if err != nil {
		return nil, newServiceError(opSubmit, "index_encode_failed", err)
	}

	record := CollectionRecord{
		DatabaseAddress:  database.Address,
		Name:             collection.CollectionName,
		IndexesJSON:      string(indexesJSON),
		MutationID:       a.mutationID,
		CreatedAtSeconds: a.now,
	}
	if err := a.tx.Create(&record).Error; err != nil {
		return nil, newServiceError(opSubmit, "collection_insert_failed", err)
	}
	return []transport.Item{{Key: ItemCollection, Value: collection.CollectionName}}, nil
}

func (a *applier) requireCollection(name string) error {
	var existing int64
	if err := a.tx.Model(&CollectionRecord{}).
		Where("database_address = ? AND name = ?", a.databaseAddress, name).
		Count(&existing).Error; err != nil {
		return newServiceError(opSubmit, "collection_select_failed", err)
	}
	if existing == 0 {
		return reject(transport.CodeRejected, "collection %q does not exist", name)
	}
	return nil
}

func (a *applier) addDocuments(subs []mutation.DocumentMutation) ([]transport.Item, error) {
	var items []transport.Item
	for _, sub := range subs {
		if err := a.requireCollection(sub.CollectionName); err != nil {
			return nil, err
		}
		for _, raw := range sub.Documents {
			body, err := canonicalObjectBody(raw)
			if err != nil {
				return nil, err
			}
			documentID, err := a.service.idProvider.NewID()
			if err != nil {
				return nil, newServiceError(opSubmit, "id_generation_failed", err)
			}
			record := DocumentRecord{
				DatabaseAddress:  a.databaseAddress,
				Collection:       sub.CollectionName,
				DocumentID:       documentID,
				Body:             body,
				Version:          1,
				Owner:            a.sender.String(),
				CreatedAtSeconds: a.now,
				UpdatedAtSeconds: a.now,
			}
			if err := a.tx.Create(&record).Error; err != nil {
				return nil, newServiceError(opSubmit, "document_insert_failed", err)
			}
			items = append(items, transport.Item{Key: ItemDocument, Value: documentID})
		}
	}
	return items, nil
}

func (a *applier) updateDocuments(subs []mutation.DocumentMutation) error {
	for _, sub := range subs {
		if err := a.requireCollection(sub.CollectionName); err != nil {
			return err
		}
		for i, id := range sub.IDs {
			existing, err := a.loadDocument(sub.CollectionName, id)
			if err != nil {
				return err
			}
			incoming, err := decodeObject(sub.Documents[i])
			if err != nil {
				return err
			}
			stored, err := document.Decode(existing.Body)
			if err != nil {
				return newServiceError(opSubmit, "stored_document_corrupt", err)
			}
			current, _ := stored.(document.Object)

			merged := applyMask(current, incoming, sub.Masks[i].Fields)
			body, err := document.EncodeObject(merged)
			if err != nil {
				return reject(transport.CodeInvalidMutation, "document %s: %v", id, err)
			}
			if err := a.tx.Model(&DocumentRecord{}).
				Where("database_address = ? AND collection = ? AND document_id = ?", a.databaseAddress, sub.CollectionName, id).
				Updates(map[string]any{
					"body":         body,
					"version":      existing.Version + 1,
					"updated_at_s": a.now,
				}).Error; err != nil {
				return newServiceError(opSubmit, "document_update_failed", err)
			}
		}
	}
	return nil
}

func (a *applier) deleteDocuments(subs []mutation.DocumentMutation) error {
	for _, sub := range subs {
		if err := a.requireCollection(sub.CollectionName); err != nil {
			return err
		}
		for _, id := range sub.IDs {
			result := a.tx.
				Where("database_address = ? AND collection = ? AND document_id = ?", a.databaseAddress, sub.CollectionName, id).
				Delete(&DocumentRecord{})
			if result.Error != nil {
				return newServiceError(opSubmit, "document_delete_failed", result.Error)
			}
			if result.RowsAffected == 0 {
				return reject(transport.CodeRejected, "document %s does not exist in %q", id, sub.CollectionName)
			}
		}
	}
	return nil
}

func (a *applier) loadDocument(collection, id string) (DocumentRecord, error) {
	var record DocumentRecord
	err := a.tx.
		Where("database_address = ? AND collection = ? AND document_id = ?", a.databaseAddress, collection, id).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DocumentRecord{}, reject(transport.CodeRejected, "document %s does not exist in %q", id, collection)
	}
	if err != nil {
		return DocumentRecord{}, newServiceError(opSubmit, "document_select_failed", err)
	}
	return record, nil
}

// applyMask overlays incoming onto current. An empty mask replaces the whole
// document; otherwise each masked top-level field is copied from incoming,
// or removed when incoming lacks it.
func applyMask(current, incoming document.Object, fields []string) document.Object {
	if len(fields) == 0 {
		return incoming
	}
	merged := make(document.Object, len(current))
	for key, value := range current {
		merged[key] = value
	}
	for _, field := range fields {
		if value, ok := incoming[field]; ok {
			merged[field] = value
			continue
		}
		delete(merged, field)
	}
	return merged
}

func decodeObject(raw []byte) (document.Object, error) {
	value, err := document.Decode(raw)
	if err != nil {
		return nil, reject(transport.CodeInvalidMutation, "document is not valid: %v", err)
	}
	object, ok := value.(document.Object)
	if !ok {
		return nil, reject(transport.CodeInvalidMutation, "document must be an object")
	}
	return object, nil
}

// canonicalObjectBody re-encodes a submitted document so stored bodies are
// always canonical.
func canonicalObjectBody(raw []byte) ([]byte, error) {
	object, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	body, err := document.EncodeObject(object)
	if err != nil {
		return nil, reject(transport.CodeInvalidMutation, "document is not valid: %v", err)
	}
	return body, nil
}
