package kafka

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"sync"

	"github.com/linkedin/goavro/v2"
	"github.com/pilosa/gdelt"
	"github.com/pkg/errors"
)

// Encoder serializes a record into a message value.
type Encoder interface {
	Encode(r *gdelt.RawRecord) ([]byte, error)
}

// JSONEncoder writes the record's JSON form.
type JSONEncoder struct{}

// Encode implements Encoder.
func (JSONEncoder) Encode(r *gdelt.RawRecord) ([]byte, error) {
	return json.Marshal(r)
}

// AvroEncoder writes records in Avro binary form with one schema per kind.
// Every column is a nullable string. When RegistryURL is set, each kind's
// schema is registered with a Confluent schema registry and values carry
// the registry's wire header: a zero byte and the big endian schema id.
type AvroEncoder struct {
	RegistryURL string
	Namespace   string
	Client      *http.Client

	lock   sync.RWMutex
	codecs map[gdelt.Kind]*avroCodec
}

type avroCodec struct {
	codec *goavro.Codec
	id    int32
}

// NewAvroEncoder returns an AvroEncoder. registryURL may be empty.
func NewAvroEncoder(registryURL string) *AvroEncoder {
	return &AvroEncoder{
		RegistryURL: registryURL,
		Namespace:   "org.gdeltproject",
		codecs:      make(map[gdelt.Kind]*avroCodec),
	}
}

// Encode implements Encoder.
func (e *AvroEncoder) Encode(r *gdelt.RawRecord) ([]byte, error) {
	c, err := e.getCodec(r.Kind)
	if err != nil {
		return nil, err
	}
	native := make(map[string]interface{})
	for _, col := range gdelt.LatestSchema(r.Kind).Columns {
		native[col.Name] = nil
	}
	extra := make(map[string]interface{}, len(r.Extra))
	for k, v := range r.Map() {
		if _, ok := native[k]; !ok {
			if v != nil {
				extra[k] = *v
			}
			continue
		}
		if v != nil {
			native[k] = goavro.Union("string", *v)
		}
	}
	native["_extra"] = extra
	native["_kind"] = r.Kind.String()
	native["_version"] = r.Version
	native["_translated"] = r.Translated
	native["_origin"] = r.Origin.String()
	native["_target"] = r.Target

	var buf []byte
	if e.RegistryURL != "" {
		buf = make([]byte, 5)
		binary.BigEndian.PutUint32(buf[1:], uint32(c.id))
	}
	return c.codec.BinaryFromNative(buf, native)
}

// Decode reverses Encode, returning the native Avro form.
func (e *AvroEncoder) Decode(kind gdelt.Kind, data []byte) (map[string]interface{}, error) {
	c, err := e.getCodec(kind)
	if err != nil {
		return nil, err
	}
	if e.RegistryURL != "" {
		if len(data) <= 5 || data[0] != 0 {
			return nil, errors.Errorf("unexpected magic byte or length in avro kafka value")
		}
		if id := int32(binary.BigEndian.Uint32(data[1:5])); id != c.id {
			return nil, errors.Errorf("schema id %d, expected %d", id, c.id)
		}
		data = data[5:]
	}
	native, _, err := c.codec.NativeFromBinary(data)
	if err != nil {
		return nil, errors.Wrap(err, "decoding avro record")
	}
	m, ok := native.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("decoded %T, not a record", native)
	}
	return m, nil
}

func (e *AvroEncoder) getCodec(kind gdelt.Kind) (*avroCodec, error) {
	if !kind.Valid() {
		return nil, errors.Errorf("unknown kind %d", int(kind))
	}
	e.lock.RLock()
	if c, ok := e.codecs[kind]; ok {
		e.lock.RUnlock()
		return c, nil
	}
	e.lock.RUnlock()
	e.lock.Lock()
	defer e.lock.Unlock()
	if c, ok := e.codecs[kind]; ok {
		return c, nil
	}
	schema := AvroSchema(kind, e.Namespace)
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, errors.Wrap(err, "parsing schema")
	}
	c := &avroCodec{codec: codec}
	if e.RegistryURL != "" {
		c.id, err = e.register(kind, schema)
		if err != nil {
			return nil, err
		}
	}
	if e.codecs == nil {
		e.codecs = make(map[gdelt.Kind]*avroCodec)
	}
	e.codecs[kind] = c
	return c, nil
}

// AvroSchema returns the Avro record schema for kind.
func AvroSchema(kind gdelt.Kind, namespace string) string {
	type field struct {
		Name    string      `json:"name"`
		Type    interface{} `json:"type"`
		Default interface{} `json:"default,omitempty"`
	}
	var fields []field
	for _, col := range gdelt.LatestSchema(kind).Columns {
		fields = append(fields, field{Name: col.Name, Type: []string{"null", "string"}})
	}
	fields = append(fields,
		field{Name: "_extra", Type: map[string]string{"type": "map", "values": "string"}},
		field{Name: "_kind", Type: "string"},
		field{Name: "_version", Type: "int"},
		field{Name: "_translated", Type: "boolean"},
		field{Name: "_origin", Type: "string"},
		field{Name: "_target", Type: "string"},
	)
	b, _ := json.Marshal(map[string]interface{}{
		"type":      "record",
		"name":      recordName(kind),
		"namespace": namespace,
		"fields":    fields,
	})
	return string(b)
}

func recordName(kind gdelt.Kind) string {
	var b strings.Builder
	up := true
	for _, c := range kind.String() {
		if c == '-' {
			up = true
			continue
		}
		if up {
			b.WriteString(strings.ToUpper(string(c)))
			up = false
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// register posts schema under the subject <kind>-value and returns its id.
func (e *AvroEncoder) register(kind gdelt.Kind, schema string) (int32, error) {
	body, err := json.Marshal(map[string]string{"schema": schema})
	if err != nil {
		return 0, errors.Wrap(err, "encoding registration")
	}
	u := strings.TrimSuffix(e.RegistryURL, "/")
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	u = fmt.Sprintf("%s/subjects/%s-value/versions", u, kind)
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Post(u, "application/vnd.schemaregistry.v1+json", bytes.NewReader(body))
	if err != nil {
		return 0, &gdelt.BackendUnavailableError{Backend: "schema registry", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bod, _ := ioutil.ReadAll(resp.Body)
		return 0, errors.Errorf("registering schema, code: %d, resp: %s", resp.StatusCode, bod)
	}
	var reg struct {
		ID int32 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return 0, errors.Wrap(err, "decoding registry response")
	}
	return reg.ID, nil
}
