package wire

// ServiceName is the gRPC service every node serves
const ServiceName = "ndckv.Node"

// Method names of ServiceName
const (
	MethodFetch      = "Fetch"
	MethodUpdate     = "Update"
	MethodSendUpdate = "SendUpdate"
	MethodSyncClock  = "SyncClock"
	MethodGet        = "Get"
	MethodPut        = "Put"
	MethodDelete     = "Delete"
)

// FullMethod returns the path gRPC uses for method
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}
