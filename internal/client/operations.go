package client

import (
	"context"
	"errors"

	"github.com/db3-network/db3-go/internal/document"
	"github.com/db3-network/db3-go/internal/errs"
	"github.com/db3-network/db3-go/internal/mutation"
	"github.com/db3-network/db3-go/internal/transport"
)

var errMissingDatabaseItem = errors.New("accepted create carried no database address")

// CreateDatabase creates a document database and returns the mutation id
// and the new database's address. The address is the first response item.
func (c *Client) CreateDatabase(ctx context.Context, description string) (string, string, error) {
	result, err := c.Submit(ctx, mutation.BuildCreateDatabase(description))
	if err != nil {
		return "", "", err
	}
	if len(result.Items) == 0 {
		return result.ID, "", errs.Transport("create_database", errMissingDatabaseItem)
	}
	return result.ID, result.Items[0].Value, nil
}

// CreateCollection adds a collection with the given indexes.
func (c *Client) CreateCollection(ctx context.Context, databaseAddress, name string, indexes []mutation.Index) (string, error) {
	m, err := mutation.BuildAddCollection(databaseAddress, name, indexes)
	if err != nil {
		return "", err
	}
	return c.submitForID(ctx, m)
}

// CreateDocument inserts one document.
func (c *Client) CreateDocument(ctx context.Context, databaseAddress, collection string, doc document.Value) (string, error) {
	m, err := mutation.BuildAddDocument(databaseAddress, collection, doc)
	if err != nil {
		return "", err
	}
	return c.submitForID(ctx, m)
}

// UpdateDocument overwrites the fields named in maskFields, or the whole
// document when maskFields is empty.
func (c *Client) UpdateDocument(ctx context.Context, databaseAddress, collection string, doc document.Value, id string, maskFields []string) (string, error) {
	m, err := mutation.BuildUpdateDocument(databaseAddress, collection, doc, id, maskFields)
	if err != nil {
		return "", err
	}
	return c.submitForID(ctx, m)
}

// DeleteDocument removes documents by id. An empty id list fails before
// anything is sent.
func (c *Client) DeleteDocument(ctx context.Context, databaseAddress, collection string, ids []string) (string, error) {
	m, err := mutation.BuildDeleteDocument(databaseAddress, collection, ids)
	if err != nil {
		return "", err
	}
	return c.submitForID(ctx, m)
}

// MutationHeader looks up an accepted mutation.
func (c *Client) MutationHeader(ctx context.Context, id string) (transport.MutationHeader, error) {
	if id == "" {
		return transport.MutationHeader{}, errs.InvalidArgument("mutation id is empty")
	}
	return c.transport.GetMutationHeader(ctx, id)
}

// ScanMutationHeaders lists accepted mutations in order, skipping start.
func (c *Client) ScanMutationHeaders(ctx context.Context, start, limit int) ([]transport.MutationHeader, error) {
	if start < 0 || limit < 0 {
		return nil, errs.InvalidArgument("start and limit must be non-negative")
	}
	return c.transport.ScanMutationHeaders(ctx, start, limit)
}

// NodeStatus reports the node's state.
func (c *Client) NodeStatus(ctx context.Context) (transport.NodeStatus, error) {
	return c.transport.GetStatus(ctx)
}

func (c *Client) submitForID(ctx context.Context, m mutation.Mutation) (string, error) {
	result, err := c.Submit(ctx, m)
	if err != nil {
		return "", err
	}
	return result.ID, nil
}
