package rpc

const (
	CoordinatorServiceName   = "grindstone.v1.CoordinatorService"
	WorkerServiceName        = "grindstone.v1.WorkerService"
	CoordinatorUIServiceName = "grindstone.v1.CoordinatorUIService"
)

const (
	coordinatorRegisterProcedure    = "/" + CoordinatorServiceName + "/Register"
	coordinatorDeregisterProcedure  = "/" + CoordinatorServiceName + "/Deregister"
	coordinatorDeliverProcedure     = "/" + CoordinatorServiceName + "/Deliver"
	workerDeliverProcedure          = "/" + WorkerServiceName + "/Deliver"
	coordinatorUIGetStatusProcedure = "/" + CoordinatorUIServiceName + "/GetStatus"
)
