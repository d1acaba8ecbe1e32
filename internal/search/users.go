package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/Skotchmaster/auth_backend/internal/models"
)

var ErrDisabled = errors.New("user search is not configured")

type UserDoc struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Directory keeps a searchable copy of user profiles. A nil ES client disables it.
type Directory struct {
	ES    *elasticsearch.Client
	Index string
}

func NewDirectory(es *elasticsearch.Client, index string) *Directory {
	return &Directory{ES: es, Index: index}
}

func (d *Directory) Enabled() bool {
	return d != nil && d.ES != nil
}

func (d *Directory) IndexUser(ctx context.Context, u *models.User) error {
	if !d.Enabled() {
		return nil
	}

	body, err := json.Marshal(UserDoc{ID: u.ID, Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt})
	if err != nil {
		return err
	}

	res, err := d.ES.Index(
		d.Index,
		bytes.NewReader(body),
		d.ES.Index.WithDocumentID(u.ID),
		d.ES.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index user: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index user: %s: %s", res.Status(), msg)
	}
	return nil
}

func (d *Directory) SearchUsers(ctx context.Context, query string, from, size int) (int64, []UserDoc, error) {
	if !d.Enabled() {
		return 0, nil, ErrDisabled
	}

	body := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":     query,
				"fields":    []string{"email^2", "role"},
				"fuzziness": "AUTO",
			},
		},
		"from": from,
		"size": size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, fmt.Errorf("search users: %w", err)
	}

	res, err := d.ES.Search(
		d.ES.Search.WithContext(ctx),
		d.ES.Search.WithIndex(d.Index),
		d.ES.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("search users: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, nil, fmt.Errorf("search users: %s", res.Status())
	}

	var r struct {
		Hits struct {
			Total struct{ Value int64 } `json:"total"`
			Hits  []struct {
				Source UserDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, nil, err
	}

	users := make([]UserDoc, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		users[i] = hit.Source
	}
	return r.Hits.Total.Value, users, nil
}
