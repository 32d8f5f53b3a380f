package couch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// GetDocument fetches the latest revision of a document. The _rev field is
// taken from the ETag header when the store provides one.
// Returns an error of KindNotFound if the document doesn't exist.
func (c *Client) GetDocument(ctx context.Context, id string) (Document, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	resp, err := c.do(ctx, "get", http.MethodGet, DocPath(id), id, nil, nil)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := decode("get", resp, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Document{}
	}
	if rev := revisionFromETag(resp.header.Get("ETag")); rev != "" {
		doc.SetRev(rev)
	}
	return doc, nil
}

// GetRevision learns a document's current revision with a HEAD request,
// without transferring the body.
func (c *Client) GetRevision(ctx context.Context, id string) (Revision, error) {
	if id == "" {
		return "", ErrMissingID
	}
	resp, err := c.do(ctx, "head", http.MethodHead, DocPath(id), id, nil, nil)
	if err != nil {
		return "", err
	}
	rev := revisionFromETag(resp.header.Get("ETag"))
	if rev == "" {
		return "", &Error{Kind: KindStore, Op: "head", ID: id, Status: resp.status, Reason: "response carried no ETag"}
	}
	return rev, nil
}

// PutDocument writes a document under its _id. A document carrying _rev
// updates that revision; one without creates the document.
func (c *Client) PutDocument(ctx context.Context, doc Document) (WriteResult, error) {
	id := doc.ID()
	if id == "" {
		return WriteResult{}, ErrMissingID
	}
	resp, err := c.do(ctx, "put", http.MethodPut, DocPath(id), id, nil, doc)
	if err != nil {
		return WriteResult{}, err
	}

	var res WriteResult
	if err := decode("put", resp, &res); err != nil {
		return WriteResult{}, err
	}
	if res.Rev == "" {
		res.Rev = revisionFromETag(resp.header.Get("ETag"))
	}
	return res, nil
}

// PostDocument creates a document, letting the store assign the _id when
// the document has none.
func (c *Client) PostDocument(ctx context.Context, doc Document) (WriteResult, error) {
	resp, err := c.do(ctx, "post", http.MethodPost, "", doc.ID(), nil, doc)
	if err != nil {
		return WriteResult{}, err
	}

	var res WriteResult
	if err := decode("post", resp, &res); err != nil {
		return WriteResult{}, err
	}
	return res, nil
}

// DeleteDocument removes the given revision of a document.
func (c *Client) DeleteDocument(ctx context.Context, id string, rev Revision) (WriteResult, error) {
	if id == "" {
		return WriteResult{}, ErrMissingID
	}
	query := url.Values{}
	query.Set("rev", string(rev))
	resp, err := c.do(ctx, "delete", http.MethodDelete, DocPath(id), id, query, nil)
	if err != nil {
		return WriteResult{}, err
	}

	var res WriteResult
	if err := decode("delete", resp, &res); err != nil {
		return WriteResult{}, err
	}
	return res, nil
}

// QueryView queries a view or rewrite path relative to the database, e.g.
// "_design/backbone/_view/all" or "_design/backbone/_rewrite/api/Number".
// The path is used verbatim.
func (c *Client) QueryView(ctx context.Context, path string, params map[string]any) (*ViewResult, error) {
	path = strings.TrimPrefix(path, "/")
	query, err := EncodeParams(params)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, "query", http.MethodGet, path, path, query, nil)
	if err != nil {
		return nil, err
	}

	var res ViewResult
	if err := decode("query", resp, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
