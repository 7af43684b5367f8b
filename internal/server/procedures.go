package server

// Procedure paths follow ConnectRPC's "/package.Service/Method" convention
// even though there is no .proto file backing them (§6.2). Keeping the
// same shape lets any standard ConnectRPC client or gRPC gateway reach this
// service without knowing it skips code generation.
const (
	ServiceName = "udprouter.v1.RouterService"

	ProcedureGetStats             = "/" + ServiceName + "/GetStats"
	ProcedureSetLocalNetAndMask   = "/" + ServiceName + "/SetLocalNetAndMask"
	ProcedureSetBackendNetAndMask = "/" + ServiceName + "/SetBackendNetAndMask"
	ProcedureSetGatewayMacAddress = "/" + ServiceName + "/SetGatewayMacAddress"
)
