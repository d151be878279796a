package handler

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/josh-kwaku/servicehub/internal/auth"
	"github.com/josh-kwaku/servicehub/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func actorFromRequest(r *http.Request) (domain.Actor, *AppError) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		return domain.Actor{}, ErrMissingToken
	}
	return actor, nil
}

// idFromPath treats a malformed id like an unknown one.
func idFromPath(r *http.Request, name string) (uuid.UUID, *AppError) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, ErrResourceNotFound
	}
	return id, nil
}

func pageFromQuery(r *http.Request) (limit, offset int, fields []FieldError) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			fields = append(fields, FieldError{Field: "limit", Message: "must be between 1 and 100"})
		} else {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fields = append(fields, FieldError{Field: "offset", Message: "must be a non-negative integer"})
		} else {
			offset = n
		}
	}
	return limit, offset, fields
}
