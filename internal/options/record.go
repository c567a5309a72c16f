package options

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/httpauth/internal/domain"
)

// record is the persisted document keyed by field name, so that presence can
// be told apart from a zero value and unknown keys survive a rewrite.
type record map[string]json.RawMessage

func decodeRecord(raw []byte) (record, error) {
	rec := record{}
	if len(raw) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode options record: %w", err)
	}
	if rec == nil {
		rec = record{}
	}
	return rec, nil
}

// version reads schema_version, treating a missing field as 0. Older
// releases stored the version as a string.
func (r record) version() (int, error) {
	raw, ok := r[domain.KeySchemaVersion]
	if !ok {
		if raw, ok = r["db_version"]; !ok {
			return 0, nil
		}
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if n == "" {
			return 0, nil
		}
		v, err := strconv.Atoi(n.String())
		if err != nil {
			return 0, fmt.Errorf("decode schema_version: %w", err)
		}
		return v, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("decode schema_version: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("decode schema_version: %w", err)
	}
	return v, nil
}

func (r record) adoptLegacy() {
	for _, alias := range legacyAliases {
		if _, ok := r[alias.modern]; ok {
			continue
		}
		if value, ok := r[alias.legacy]; ok {
			r[alias.modern] = value
		}
	}
}

// merge writes every field of opts into the record.
func (r record) merge(opts domain.Options) error {
	fields, err := encodeOptions(opts)
	if err != nil {
		return err
	}
	for key, value := range fields {
		r[key] = value
	}
	return nil
}

func encodeOptions(opts domain.Options) (record, error) {
	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	return rec, nil
}

func decodeField(opts *domain.Options, key string, value json.RawMessage) error {
	var target any
	switch key {
	case domain.KeyAllowFallbackAuth:
		target = &opts.AllowFallbackAuth
	case domain.KeyAuthLabel:
		target = &opts.AuthLabel
	case domain.KeyLoginURITemplate:
		target = &opts.LoginURITemplate
	case domain.KeyLogoutURITemplate:
		target = &opts.LogoutURITemplate
	case domain.KeyAutoCreateUser:
		target = &opts.AutoCreateUser
	case domain.KeyAutoCreateEmailDomain:
		target = &opts.AutoCreateEmailDomain
	default:
		return nil
	}
	if err := json.Unmarshal(value, target); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
