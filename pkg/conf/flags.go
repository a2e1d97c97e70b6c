package conf

import "time"

// Standard options for cluster performance benchmarks. Every benchmark
// driver shares these; individual drivers may register extra flags of
// their own.
var (
	// Gbps represents the target bandwidth flag.
	Gbps = NewFloatFlag("gbps", "Generate a total of B Gbits/sec of bandwidth " +
		"on the most heavily loaded machines; 0 means run as fast as possible", 0.0)

	// ClientMax limits outstanding requests from one client machine.
	// Note: very large numbers hurt Homa throughput with unlimited load
	// (throttle queue inserts take a long time).
	ClientMax = NewIntFlag("client_max", "Maximum number of Homa requests each " +
		"client machine can have outstanding at a time (divided evenly among " +
		"the Homa ports)", 200)

	// ClientPorts is the number of ports on which each client issues requests.
	ClientPorts = NewIntFlag("client_ports", "Number of ports on which each " +
		"client should issue requests", 3)

	// PortReceivers is the number of threads listening for responses on each
	// Homa client port.
	PortReceivers = NewIntFlag("port_receivers", "Number of threads listening " +
		"for responses on each Homa client port", 3)

	// PortThreads is the number of threads listening on each Homa server port.
	PortThreads = NewIntFlag("port_threads", "Number of threads listening on " +
		"each Homa server port", 3)

	// ServerPorts is the number of ports on which each server listens.
	ServerPorts = NewIntFlag("server_ports", "Number of ports on which each " +
		"server should listen", 3)

	// Protocol selects the transport under test: homa, tcp or dctcp.
	Protocol = NewStringFlag("protocol", "Transport protocol to use: homa, tcp " +
		"or dctcp", "homa")

	// Seconds gives the length of the measurement window for each experiment.
	Seconds = NewDurationFlag("seconds", "Run each experiment for this long",
		30*time.Second)

	// Workloads lists the message size distributions to run: w1-w5 or a
	// number. Empty means the full w1-w5 suite.
	Workloads = NewSliceFlag("workload", "Workloads to use for benchmark: w1-w5 "+
		"or a number, may be repeated or comma-separated; empty means each of w1-w5")

	// NumNodes is the total number of cluster nodes to use.
	NumNodes = NewIntFlag("nodes", "Total number of nodes to use in the cluster", 0)

	// Skip lists node numbers to leave out of the experiment.
	Skip = NewStringFlag("skip", "List of node numbers not to use in the " +
		"experiment; may contain ranges, such as \"3,5-8,12\"", "")

	// LogDir is the directory for logs, RTT files and reports.
	LogDir = NewStringFlag("log_dir", "Directory to use for logs and metrics", "")

	// MTU caps the packet size used by the transports; 0 keeps the current value.
	MTU = NewIntFlag("mtu", "Maximum allowable packet size (0 means use existing)", 0)

	// IPv6 switches the worker processes to IPv6 communication.
	IPv6 = NewBoolFlag("ipv6", "Use IPv6 for communication (default: IPv4)", false)

	// OldSlowdown selects the legacy slowdown calculation, with unloaded P50
	// latencies as the denominator.
	OldSlowdown = NewBoolFlag("old_slowdown", "Compute slowdowns using unloaded " +
		"P50 latencies (default: use 15 usec RTT plus 100% link throughput as " +
		"reference)", false)

	// DeleteRtts removes .rtts files after reading to save disk space.
	DeleteRtts = NewBoolFlag("delete_rtts", "Delete .rtts files after reading, " +
		"in order to save disk space", false)

	// Stripped means the transport has been stripped for upstreaming and
	// some facilities (sysctl tuning, metrics, timetraces) are unavailable.
	Stripped = NewBoolFlag("stripped", "Homa has been stripped for upstreaming, " +
		"which means some facilities are not available", false)

	// TtFreeze freezes timetraces on all nodes at the end of a Homa run.
	TtFreeze = NewBoolFlag("tt_freeze", "Freeze timetraces on all nodes at the " +
		"end of the Homa benchmark run", true)

	// SetIDs assigns disjoint RPC id spaces to the nodes.
	SetIDs = NewBoolFlag("set_ids", "Set the next_id parameter on each node in " +
		"order to avoid conflicting RPC ids on different nodes", true)

	// NoHomaPrio disables the homa_prio priority-management daemon.
	NoHomaPrio = NewBoolFlag("no_homa_prio", "Don't run homa_prio on nodes to " +
		"adjust unscheduled cutoffs", false)

	// Unsched forces a fixed number of unscheduled priorities for homa_prio.
	Unsched = NewIntFlag("unsched", "If nonzero, homa_prio will always use this " +
		"number of unscheduled priorities, rather than computing from workload", 0)

	// UnschedBoost bumps the number of unscheduled priorities homa_prio assigns.
	UnschedBoost = NewFloatFlag("unsched_boost", "Increase the number of " +
		"unscheduled priorities that homa_prio assigns by this amount", 0.0)

	// TCP variants of the port/thread options; TCP needs different defaults
	// to saturate the same links.
	TCPClientPorts   = NewIntFlag("tcp_client_ports", "Number of ports on which each TCP client should issue requests", 4)
	TCPPortReceivers = NewIntFlag("tcp_port_receivers", "Number of threads listening for responses on each TCP client port", 1)
	TCPServerPorts   = NewIntFlag("tcp_server_ports", "Number of ports on which TCP servers should listen", 8)
	TCPPortThreads   = NewIntFlag("tcp_port_threads", "Number of threads listening on each TCP server port", 1)
	TCPClientMax     = NewIntFlag("tcp_client_max", "Maximum number of TCP requests that can be outstanding from a client node at once; if zero, client_max is used for TCP as well", 0)
)

// Metadata storage settings.
var (
	// MetadataBackend selects where run metadata is recorded: cassandra,
	// influxdb or none.
	MetadataBackend = NewStringFlag("metadata_backend", "Backend for run metadata: cassandra, influxdb or none", "none")

	// CassandraAddress represents cassandra address flag.
	CassandraAddress = NewStringFlag("cassandra_addr", "Address of Cassandra DB endpoint", "127.0.0.1")

	// CassandraUsername holds the user name which will be presented when connecting to the cluster.
	CassandraUsername = NewStringFlag("cassandra_username", "The user name which will be presented when connecting to the cluster", "")

	// CassandraPassword holds the password which will be presented when connecting to the cluster.
	CassandraPassword = NewStringFlag("cassandra_password", "The password which will be presented when connecting to the cluster", "")

	// CassandraConnectionTimeout encodes the internal connection timeout for the publisher.
	CassandraConnectionTimeout = NewDurationFlag("cassandra_timeout", "Timeout for communication with Cassandra cluster", 0)

	// InfluxDBAddress represents influxdb address flag.
	InfluxDBAddress = NewStringFlag("influxdb_addr", "Address of InfluxDB endpoint", "127.0.0.1")

	// InfluxDBPort represents influxdb port flag.
	InfluxDBPort = NewIntFlag("influxdb_port", "Port of InfluxDB endpoint", 8086)

	// InfluxDBUsername holds the user name for the InfluxDB connection.
	InfluxDBUsername = NewStringFlag("influxdb_username", "The user name which will be presented when connecting to InfluxDB", "")

	// InfluxDBPassword holds the password for the InfluxDB connection.
	InfluxDBPassword = NewStringFlag("influxdb_password", "The password which will be presented when connecting to InfluxDB", "")

	// InfluxDBName holds the name of the metadata database.
	InfluxDBName = NewStringFlag("influxdb_name", "Name of the InfluxDB database for run metadata", "cperf")

	// InfluxDBInsecureSkipVerify disables TLS certificate validation.
	InfluxDBInsecureSkipVerify = NewBoolFlag("influxdb_insecure_skip_verify", "Skip TLS certificate validation for InfluxDB", false)
)
