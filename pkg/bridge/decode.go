package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/morezero/webshell-bridge/pkg/apperr"
	"github.com/morezero/webshell-bridge/pkg/capability"
	"github.com/morezero/webshell-bridge/pkg/commsutil"
)

const decodeLogPrefix = "bridge:decode"

// FieldBridgeVersion is the optional protocol version a content page declares.
const FieldBridgeVersion = "bridgeVersion"

// inboundSchema checks the types of the known parameters. It leaves "action"
// optional so a missing action reaches the dispatcher, which owns that error.
const inboundSchema = `{
  "type": "object",
  "properties": {
    "action":        {"type": "string"},
    "id":            {"type": ["string", "number"]},
    "bridgeVersion": {"type": "string"},
    "ocr":           {"type": "boolean"},
    "outputType":    {"type": "string"},
    "camera":        {"type": "string"},
    "types":         {"type": "array"}
  }
}`

// Decoder turns raw content messages into capability requests.
type Decoder struct {
	schema     *gojsonschema.Schema
	constraint *masterminds.Constraints
}

// NewDecoder compiles the inbound schema and the protocol constraint. An empty
// constraint accepts any bridgeVersion.
func NewDecoder(protocolConstraint string) (*Decoder, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(inboundSchema))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to compile inbound schema: %w", decodeLogPrefix, err)
	}
	d := &Decoder{schema: schema}
	if protocolConstraint != "" {
		c, err := masterminds.NewConstraint(protocolConstraint)
		if err != nil {
			return nil, fmt.Errorf("%s - invalid protocol constraint %q: %w", decodeLogPrefix, protocolConstraint, err)
		}
		d.constraint = c
	}
	return d, nil
}

// Decode parses one inbound message. On error the returned request still
// carries whatever id and action could be read, so the error envelope can be
// correlated by content.
func (d *Decoder) Decode(raw []byte) (capability.Request, error) {
	req := capability.Request{TraceID: uuid.NewString()}

	obj, err := commsutil.DecodeObject(raw)
	if err != nil {
		if errors.Is(err, commsutil.ErrNotObject) {
			return req, apperr.BridgeCommunicationError("message must be a JSON object")
		}
		return req, apperr.BridgeCommunicationError(fmt.Sprintf("message is not valid JSON: %v", err))
	}

	req.ID = requestID(raw)
	if a, ok := obj[FieldAction].(string); ok {
		req.Action = a
	}

	result, err := d.schema.Validate(gojsonschema.NewGoLoader(obj))
	if err != nil {
		return req, apperr.BridgeCommunicationError(fmt.Sprintf("message could not be validated: %v", err))
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		slog.Warn(fmt.Sprintf("%s - [%s] rejected message: %s", decodeLogPrefix, req.TraceID, strings.Join(details, "; ")))
		return req, apperr.InvalidRequest(strings.Join(details, "; "))
	}

	if v, ok := obj[FieldBridgeVersion].(string); ok {
		if err := d.checkVersion(v); err != nil {
			return req, err
		}
	}

	params := make(map[string]any, len(obj))
	for k, v := range obj {
		switch k {
		case FieldAction, FieldID, FieldBridgeVersion:
			continue
		}
		params[k] = v
	}
	req.Params = params
	return req, nil
}

func (d *Decoder) checkVersion(v string) error {
	if d.constraint == nil {
		return nil
	}
	version, err := masterminds.NewVersion(v)
	if err != nil {
		return apperr.InvalidRequest(fmt.Sprintf("bridgeVersion %q is not a semantic version", v))
	}
	if !d.constraint.Check(version) {
		return apperr.InvalidRequest(fmt.Sprintf("bridgeVersion %s is not supported (want %s)", v, d.constraint))
	}
	return nil
}

// requestID reads the id from its JSON literal, so numbers keep their exact
// digits. Ids of any other type are ignored.
func requestID(raw []byte) capability.RequestID {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := commsutil.DecodePayload(raw, &probe); err != nil || len(probe.ID) == 0 {
		return capability.RequestID{}
	}
	switch probe.ID[0] {
	case '"':
		var s string
		if err := json.Unmarshal(probe.ID, &s); err != nil {
			return capability.RequestID{}
		}
		return capability.StringID(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return capability.NumberID(json.Number(probe.ID))
	default:
		return capability.RequestID{}
	}
}
