package errors

// Stable error codes shared across the engine service and tools. Codes are
// dotted <area>.<condition> strings; once published they are API-stable and
// appear in log fields and ops responses.

type Code string

// CodeMeta provides metadata for HTTP mapping and retry decisions.
type CodeMeta struct {
	HTTPStatus  int    `json:"http_status"`
	Retryable   bool   `json:"retryable"`
	Kind        string `json:"kind"` // client|server|dependency
	Description string `json:"description"`
}

// ---- TRANSPORT / PROTOCOL ----
const (
	TransportIO       Code = "transport.io"
	ProtocolTooLarge  Code = "protocol.frame_too_large"
	ProtocolTruncated Code = "protocol.frame_truncated"
	ProtocolBadJSON   Code = "protocol.bad_json"
)

// ---- RPC ----
const (
	RPCUnknownMethod Code = "rpc.unknown_method"
	RPCBadArgs       Code = "rpc.bad_args"
	RPCHandlerFailed Code = "rpc.handler_failed"
)

// ---- EVENT BUS ----
const (
	BusPruned Code = "bus.pruned"
)

// ---- OPS ----
const (
	OpsBadRequest Code = "ops.bad_request"
	OpsNotFound   Code = "ops.not_found"
	Internal      Code = "internal"
)

var registry = map[Code]CodeMeta{
	TransportIO:       {HTTPStatus: 502, Retryable: true, Kind: "dependency", Description: "connection level I/O failure"},
	ProtocolTooLarge:  {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "frame exceeds the 32 MiB cap"},
	ProtocolTruncated: {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "stream ended inside a frame"},
	ProtocolBadJSON:   {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "payload is not a JSON object"},
	RPCUnknownMethod:  {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "method not recognized"},
	RPCBadArgs:        {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "argument object missing or malformed"},
	RPCHandlerFailed:  {HTTPStatus: 500, Retryable: true, Kind: "server", Description: "handler raised an error"},
	BusPruned:         {HTTPStatus: 200, Retryable: false, Kind: "server", Description: "cursor older than earliest retained seq"},
	OpsBadRequest:     {HTTPStatus: 400, Retryable: false, Kind: "client", Description: "malformed ops request"},
	OpsNotFound:       {HTTPStatus: 404, Retryable: false, Kind: "client", Description: "no such ops resource"},
	Internal:          {HTTPStatus: 500, Retryable: true, Kind: "server", Description: "unclassified server error"},
}

// Meta returns the metadata for code.
func Meta(code Code) (CodeMeta, bool) {
	m, ok := registry[code]
	return m, ok
}
