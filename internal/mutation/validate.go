package mutation

import (
	"github.com/db3-network/db3-go/internal/address"
	"github.com/db3-network/db3-go/internal/errs"
)

// Validate checks that the fields used by m.Action are present and well
// formed. The builders always produce valid mutations; Validate guards
// hand-assembled descriptors and decoded payloads.
func (m Mutation) Validate() error {
	if !m.Action.Known() {
		return errs.InvalidArgument("unknown action %s", m.Action)
	}
	if m.Action == ActionCreateDocumentDB {
		if len(m.DatabaseAddress) != 0 {
			return errs.InvalidArgument("%s: database address must be empty", m.Action)
		}
		if len(m.CollectionMutations) != 0 || len(m.DocumentMutations) != 0 {
			return errs.InvalidArgument("%s: sub-mutations are not allowed", m.Action)
		}
		return nil
	}

	if _, err := address.FromBytes(m.DatabaseAddress); err != nil {
		return errs.InvalidArgument("%s: database address must be %d bytes", m.Action, address.Length)
	}
	if m.Description != "" {
		return errs.InvalidArgument("%s: description is only allowed on create", m.Action)
	}

	if m.Action == ActionAddCollection {
		if len(m.CollectionMutations) != 1 || len(m.DocumentMutations) != 0 {
			return errs.InvalidArgument("%s: exactly one collection mutation required", m.Action)
		}
		if m.CollectionMutations[0].CollectionName == "" {
			return errs.InvalidArgument("%s: collection name is empty", m.Action)
		}
		return nil
	}

	if len(m.DocumentMutations) == 0 || len(m.CollectionMutations) != 0 {
		return errs.InvalidArgument("%s: at least one document mutation and no collection mutations required", m.Action)
	}
	for i, doc := range m.DocumentMutations {
		if doc.CollectionName == "" {
			return errs.InvalidArgument("%s: document mutation %d has no collection name", m.Action, i)
		}
		switch m.Action {
		case ActionAddDocument:
			if len(doc.Documents) == 0 || len(doc.IDs) != 0 || len(doc.Masks) != 0 {
				return errs.InvalidArgument("%s: document mutation %d needs documents and no ids or masks", m.Action, i)
			}
		case ActionUpdateDocument:
			if len(doc.Documents) == 0 || len(doc.Documents) != len(doc.IDs) || len(doc.Masks) != len(doc.IDs) {
				return errs.InvalidArgument("%s: document mutation %d needs one id and one mask per document", m.Action, i)
			}
		case ActionDeleteDocument:
			if len(doc.IDs) == 0 || len(doc.Documents) != 0 {
				return errs.InvalidArgument("%s: document mutation %d needs ids and no documents", m.Action, i)
			}
		}
	}
	return nil
}
