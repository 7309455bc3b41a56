package logger

// Component name constants for standardized logging across the
// scan lifecycle engine.
const (
	// ComponentSupervisor is the top-level SdpTransfer supervisor.
	ComponentSupervisor = "SdpTransfer"
	// ComponentScanManager is the scan discovery / GC loop.
	ComponentScanManager = "ScanManager"
	// ComponentScanProcess is the post-processing worker.
	ComponentScanProcess = "ScanProcess"
	// ComponentScanTransfer is the replication worker.
	ComponentScanTransfer = "ScanTransfer"
	// ComponentDashboard is the Data Product Dashboard client.
	ComponentDashboard = "Dashboard"
	// ComponentScanFSM is the per-scan lifecycle state machine.
	ComponentScanFSM = "ScanFSM"
	// ComponentFilesystem is the filesystem service.
	ComponentFilesystem = "Filesystem"
	// ComponentStatProc is the external statistics binary invoker.
	ComponentStatProc = "StatProc"
)
