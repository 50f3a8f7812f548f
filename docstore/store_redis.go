package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisDocPrefix = "horizon:doc:"

// RedisStore keeps each document as a hash under
// <prefix>{<collection>}:<id>. Every hash field holds the JSON encoding of
// one document field; the version field holds a plain integer.
//
// Redis semantics:
//   - Fetch is one pipelined batch of HGETALL.
//   - BatchConditionalWrite runs one Lua script for the whole batch. The
//     script compares the stored version of each key against the write's
//     baseline at execution time and then HSETs the pre-encoded fields, so
//     the check and the write cannot be separated by another writer.
//   - The script never decodes document values. Encoding stays in Go and
//     numbers and empty arrays round-trip exactly.
//   - The collection is used as a hash tag so all keys of one batch live in
//     the same cluster slot.
type RedisStore struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisStore creates a Redis-backed document store. If prefix is empty, a
// default namespace is used.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisDocPrefix
	}
	return &RedisStore{Client: client, Prefix: prefix}, nil
}

func (s *RedisStore) key(collection, id string) string {
	return s.Prefix + "{" + collection + "}:" + id
}

func (s *RedisStore) Fetch(ctx context.Context, collection string, ids []string) ([]Document, error) {
	out := make([]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(collection, id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		doc, err := decodeHashDocument(fields)
		if err != nil {
			return nil, fmt.Errorf("decode document %q: %w", ids[i], err)
		}
		out[i] = doc
	}
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	fields, err := s.Client.HGetAll(ctx, s.key(collection, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeHashDocument(fields)
}

func (s *RedisStore) BatchConditionalWrite(ctx context.Context, collection string, specs []WriteSpec) ([]WriteResult, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(specs))
	args := []any{VersionField}
	for i, spec := range specs {
		id := spec.ID
		if spec.Kind == WriteInsert {
			id = uuid.NewString()
		}
		fields, err := encodeHashFields(spec.Doc, id)
		if err != nil {
			return nil, fmt.Errorf("encode write %d: %w", i, err)
		}
		keys[i] = s.key(collection, id)
		args = append(args, spec.Kind.String(), spec.Baseline, len(fields)/2)
		args = append(args, fields...)
	}

	reply, err := conditionalWriteScript.Run(ctx, s.Client, keys, args...).Slice()
	if err != nil {
		return nil, err
	}
	if len(reply) != len(specs) {
		return nil, consistencyErrorf("script returned %d results for %d writes", len(reply), len(specs))
	}

	results := make([]WriteResult, len(specs))
	for i, raw := range reply {
		res, err := parseScriptResult(raw)
		if err != nil {
			return nil, fmt.Errorf("write %d: %w", i, err)
		}
		results[i] = res
	}
	return results, nil
}

// encodeHashFields flattens doc into field/value pairs for HSET. The version
// field is left to the script.
func encodeHashFields(doc Document, id string) ([]any, error) {
	fields := make([]any, 0, 2*(len(doc)+1))
	for k, v := range doc {
		if k == VersionField || k == IDField {
			continue
		}
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		fields = append(fields, k, string(enc))
	}
	enc, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	return append(fields, IDField, string(enc)), nil
}

// parseScriptResult decodes one script reply: {"invalidated"},
// {"inserted", new} or {"replaced", old, new}, where old and new are flat
// HGETALL replies.
func parseScriptResult(raw any) (WriteResult, error) {
	parts, ok := raw.([]any)
	if !ok || len(parts) == 0 {
		return WriteResult{}, fmt.Errorf("unexpected script reply %v", raw)
	}
	status, _ := parts[0].(string)
	switch {
	case status == "invalidated" && len(parts) == 1:
		return WriteResult{Err: ErrInvalidated}, nil
	case status == "inserted" && len(parts) == 2:
		newDoc, err := decodeHashReply(parts[1])
		if err != nil {
			return WriteResult{}, err
		}
		return WriteResult{Change: Change{New: newDoc}}, nil
	case status == "replaced" && len(parts) == 3:
		oldDoc, err := decodeHashReply(parts[1])
		if err != nil {
			return WriteResult{}, err
		}
		newDoc, err := decodeHashReply(parts[2])
		if err != nil {
			return WriteResult{}, err
		}
		return WriteResult{Change: Change{Old: oldDoc, New: newDoc}}, nil
	default:
		return WriteResult{}, fmt.Errorf("unexpected script reply %v", raw)
	}
}

func decodeHashReply(raw any) (Document, error) {
	flat, ok := raw.([]any)
	if !ok || len(flat)%2 != 0 {
		return nil, fmt.Errorf("unexpected hash reply %v", raw)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, kok := flat[i].(string)
		v, vok := flat[i+1].(string)
		if !kok || !vok {
			return nil, fmt.Errorf("unexpected hash entry %v=%v", flat[i], flat[i+1])
		}
		fields[k] = v
	}
	return decodeHashDocument(fields)
}

// decodeHashDocument turns stored hash fields back into a Document. A version
// value that is not valid JSON is kept as a string, which DefaultedVersion
// reads as -1.
func decodeHashDocument(fields map[string]string) (Document, error) {
	doc := make(Document, len(fields))
	for k, raw := range fields {
		v, err := decodeJSONValue(raw)
		if err != nil {
			if k == VersionField {
				doc[k] = raw
				continue
			}
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}

func decodeJSONValue(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// KEYS[i] is the key of write i. ARGV[1] is the version field. Each write
// then contributes kind, baseline, n and n field/value pairs. A stored
// version that is missing or not an integer counts as -1.
var conditionalWriteScript = redis.NewScript(`
local vfield = ARGV[1]
local pos = 2
local out = {}
for i = 1, #KEYS do
  local key = KEYS[i]
  local kind = ARGV[pos]
  local baseline = tonumber(ARGV[pos + 1])
  local n = tonumber(ARGV[pos + 2])
  local first = pos + 3
  pos = first + 2 * n
  local exists = redis.call('EXISTS', key) == 1

  local function write(version)
    for j = first, first + 2 * n - 1, 2 do
      redis.call('HSET', key, ARGV[j], ARGV[j + 1])
    end
    redis.call('HSET', key, vfield, string.format('%d', version))
  end

  if kind == 'replace_if_version' then
    local stored = -1
    local raw = exists and redis.call('HGET', key, vfield)
    if raw and (raw == '0' or string.match(raw, '^-?[1-9]%d*$')) then
      stored = tonumber(raw)
    end
    if not exists or stored ~= baseline then
      out[i] = {'invalidated'}
    else
      local old = redis.call('HGETALL', key)
      write(stored + 1)
      out[i] = {'replaced', old, redis.call('HGETALL', key)}
    end
  elseif kind == 'insert' or kind == 'insert_if_absent' then
    if exists then
      out[i] = {'invalidated'}
    else
      write(0)
      out[i] = {'inserted', redis.call('HGETALL', key)}
    end
  else
    return redis.error_reply('unknown write kind ' .. tostring(kind))
  end
end
return out
`)
