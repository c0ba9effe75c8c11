package storage

import (
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so text comparison orders rows chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = `id, model, polling_url, params_json, status, result_url, error, created_at, updated_at`
