package sdk

import (
	"encoding/json"
	"fmt"
)

// ControlRequestSubtype identifies the type of control request
type ControlRequestSubtype string

const (
	ControlSubtypeInterrupt         ControlRequestSubtype = "interrupt"
	ControlSubtypeCanUseTool        ControlRequestSubtype = "can_use_tool"
	ControlSubtypeInitialize        ControlRequestSubtype = "initialize"
	ControlSubtypeSetPermissionMode ControlRequestSubtype = "set_permission_mode"
	ControlSubtypeSetModel          ControlRequestSubtype = "set_model"
	ControlSubtypeHookCallback      ControlRequestSubtype = "hook_callback"
	ControlSubtypeMcpMessage        ControlRequestSubtype = "mcp_message"
	ControlSubtypeRewindFiles       ControlRequestSubtype = "rewind_files"
	ControlSubtypeMcpStatus         ControlRequestSubtype = "mcp_status"
)

// ControlRequestBody is one of the request variants below. Subtypes this
// package does not know decode to UnknownControlRequest.
type ControlRequestBody interface {
	Subtype() ControlRequestSubtype
}

type InterruptRequest struct{}

type CanUseToolRequest struct {
	ToolName              string             `json:"tool_name"`
	Input                 map[string]any     `json:"input"`
	PermissionSuggestions []PermissionUpdate `json:"permission_suggestions,omitempty"`
	BlockedPath           *string            `json:"blocked_path,omitempty"`
	ToolUseID             string             `json:"tool_use_id,omitempty"`
	AgentID               string             `json:"agent_id,omitempty"`
}

// HookMatcherConfig is the wire form of a HookMatcher: callbacks are
// referenced by the ids registered during initialize.
type HookMatcherConfig struct {
	Matcher         string   `json:"matcher"`
	HookCallbackIDs []string `json:"hookCallbackIds"`
	Timeout         *float64 `json:"timeout,omitempty"`
}

type InitializeRequest struct {
	Hooks map[HookEvent][]HookMatcherConfig `json:"hooks"`
}

type SetPermissionModeRequest struct {
	Mode PermissionMode `json:"mode"`
}

// SetModelRequest with a nil Model resets the CLI to its default model.
type SetModelRequest struct {
	Model *string `json:"model,omitempty"`
}

type HookCallbackRequest struct {
	CallbackID string          `json:"callback_id"`
	Input      json.RawMessage `json:"input"`
	ToolUseID  *string         `json:"tool_use_id,omitempty"`
}

type McpMessageRequest struct {
	ServerName string          `json:"server_name"`
	Message    json.RawMessage `json:"message"`
}

type RewindFilesRequest struct {
	UserMessageID string `json:"user_message_id"`
}

type McpStatusRequest struct{}

// UnknownControlRequest preserves a request whose subtype is not recognised.
type UnknownControlRequest struct {
	Name string
	Raw  json.RawMessage
}

func (InterruptRequest) Subtype() ControlRequestSubtype         { return ControlSubtypeInterrupt }
func (CanUseToolRequest) Subtype() ControlRequestSubtype        { return ControlSubtypeCanUseTool }
func (InitializeRequest) Subtype() ControlRequestSubtype        { return ControlSubtypeInitialize }
func (SetPermissionModeRequest) Subtype() ControlRequestSubtype { return ControlSubtypeSetPermissionMode }
func (SetModelRequest) Subtype() ControlRequestSubtype          { return ControlSubtypeSetModel }
func (HookCallbackRequest) Subtype() ControlRequestSubtype      { return ControlSubtypeHookCallback }
func (McpMessageRequest) Subtype() ControlRequestSubtype        { return ControlSubtypeMcpMessage }
func (RewindFilesRequest) Subtype() ControlRequestSubtype       { return ControlSubtypeRewindFiles }
func (McpStatusRequest) Subtype() ControlRequestSubtype         { return ControlSubtypeMcpStatus }
func (u UnknownControlRequest) Subtype() ControlRequestSubtype  { return ControlRequestSubtype(u.Name) }

// ControlRequest is a request travelling in either direction.
type ControlRequest struct {
	RequestID string
	Body      ControlRequestBody
}

// ControlResponse answers a ControlRequest with the same RequestID.
// Exactly one of Payload (success) or Error (failure) is meaningful.
type ControlResponse struct {
	RequestID string
	IsError   bool
	Payload   json.RawMessage
	Error     string
}

type controlRequestEnvelope struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

type controlResponseEnvelope struct {
	Type     MessageType            `json:"type"`
	Response controlResponsePayload `json:"response"`
}

type controlResponsePayload struct {
	Subtype   string          `json:"subtype"` // "success" or "error"
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// MarshalJSON renders the full control_request envelope.
func (r ControlRequest) MarshalJSON() ([]byte, error) {
	body, err := marshalRequestBody(r.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(controlRequestEnvelope{
		Type:      MessageTypeControlRequest,
		RequestID: r.RequestID,
		Request:   body,
	})
}

// marshalRequestBody flattens the variant's fields next to its subtype.
func marshalRequestBody(body ControlRequestBody) (json.RawMessage, error) {
	if u, ok := body.(UnknownControlRequest); ok && len(u.Raw) > 0 {
		return u.Raw, nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", body.Subtype(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", body.Subtype(), err)
	}
	fields["subtype"], _ = json.Marshal(body.Subtype())
	return json.Marshal(fields)
}

// MarshalJSON renders the full control_response envelope.
func (r ControlResponse) MarshalJSON() ([]byte, error) {
	payload := controlResponsePayload{
		Subtype:   "success",
		RequestID: r.RequestID,
		Response:  r.Payload,
	}
	if r.IsError {
		payload.Subtype = "error"
		payload.Response = nil
		payload.Error = r.Error
	}
	return json.Marshal(controlResponseEnvelope{
		Type:     MessageTypeControlResponse,
		Response: payload,
	})
}

// DecodeControlRequest parses a control_request line. When the envelope is
// readable but the body is not, the returned request still carries its id
// so the caller can answer with an error.
func DecodeControlRequest(data []byte) (ControlRequest, error) {
	var env controlRequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ControlRequest{}, fmt.Errorf("%w: malformed control_request: %v", ErrControlProtocol, err)
	}
	req := ControlRequest{RequestID: env.RequestID}
	if env.RequestID == "" {
		return req, fmt.Errorf("%w: control_request without request_id", ErrControlProtocol)
	}

	var head struct {
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(env.Request, &head); err != nil {
		return req, fmt.Errorf("%w: malformed request body: %v", ErrControlProtocol, err)
	}

	var body ControlRequestBody
	var err error
	switch ControlRequestSubtype(head.Subtype) {
	case ControlSubtypeInterrupt:
		body = InterruptRequest{}
	case ControlSubtypeMcpStatus:
		body = McpStatusRequest{}
	case ControlSubtypeCanUseTool:
		body, err = decodeBody[CanUseToolRequest](env.Request)
	case ControlSubtypeInitialize:
		body, err = decodeBody[InitializeRequest](env.Request)
	case ControlSubtypeSetPermissionMode:
		body, err = decodeBody[SetPermissionModeRequest](env.Request)
	case ControlSubtypeSetModel:
		body, err = decodeBody[SetModelRequest](env.Request)
	case ControlSubtypeHookCallback:
		body, err = decodeBody[HookCallbackRequest](env.Request)
	case ControlSubtypeMcpMessage:
		body, err = decodeBody[McpMessageRequest](env.Request)
	case ControlSubtypeRewindFiles:
		body, err = decodeBody[RewindFilesRequest](env.Request)
	default:
		body = UnknownControlRequest{Name: head.Subtype, Raw: env.Request}
	}
	if err != nil {
		return req, err
	}
	req.Body = body
	return req, nil
}

func decodeBody[T ControlRequestBody](raw json.RawMessage) (ControlRequestBody, error) {
	var b T
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: invalid %s request: %v", ErrControlProtocol, b.Subtype(), err)
	}
	return b, nil
}

// DecodeControlResponse parses a control_response line.
func DecodeControlResponse(data []byte) (ControlResponse, error) {
	var env controlResponseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ControlResponse{}, fmt.Errorf("%w: malformed control_response: %v", ErrControlProtocol, err)
	}
	p := env.Response
	if p.RequestID == "" {
		return ControlResponse{}, fmt.Errorf("%w: control_response without request_id", ErrControlProtocol)
	}

	switch p.Subtype {
	case "success":
		return ControlResponse{RequestID: p.RequestID, Payload: p.Response}, nil
	case "error":
		return ControlResponse{RequestID: p.RequestID, IsError: true, Error: p.Error}, nil
	default:
		return ControlResponse{}, fmt.Errorf("%w: unknown control_response subtype %q", ErrControlProtocol, p.Subtype)
	}
}
