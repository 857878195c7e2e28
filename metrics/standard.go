package metrics

// Pre-defined metrics for the LockedWorlds node. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

// DefaultRegistry is the registry served on the node's /metrics endpoint.
var DefaultRegistry = NewRegistry("lockedworlds").WithRuntime()

var (
	// ---- Chain metrics ----

	// ChainHeight tracks the latest block number.
	ChainHeight = DefaultRegistry.Gauge("chain", "height", "Latest block number.")
	// TxExecuted counts transactions mined, labelled by receipt status.
	TxExecuted = DefaultRegistry.CounterVec("chain", "transactions_total", "Transactions mined by receipt status.", "status")
	// TxRejected counts transactions refused before execution.
	TxRejected = DefaultRegistry.Counter("chain", "transactions_rejected_total", "Transactions refused before execution.")
	// CallsServed counts read-only contract calls.
	CallsServed = DefaultRegistry.Counter("chain", "calls_total", "Read-only contract calls.")

	// ---- Coprocessor metrics ----

	// CiphertextsStored counts ciphertexts committed to the store.
	CiphertextsStored = DefaultRegistry.CounterVec("fhe", "ciphertexts_total", "Ciphertexts created by operation.", "op")
	// ACLGrants counts committed access grants.
	ACLGrants = DefaultRegistry.Counter("fhe", "acl_grants_total", "Access-control grants issued.")

	// ---- Relayer metrics ----

	// DecryptRequests counts user-decrypt requests by outcome.
	DecryptRequests = DefaultRegistry.CounterVec("relayer", "user_decrypt_requests_total", "User-decrypt requests by outcome.", "outcome")
	// DecryptHandles counts handles decrypted.
	DecryptHandles = DefaultRegistry.Counter("relayer", "handles_decrypted_total", "Ciphertext handles decrypted.")
	// DecryptLatency records the time spent serving a user-decrypt request.
	DecryptLatency = DefaultRegistry.Histogram("relayer", "user_decrypt_seconds", "User-decrypt request latency.")

	// ---- Page metrics ----

	// PageActions counts page actions by action and outcome.
	PageActions = DefaultRegistry.CounterVec("web", "actions_total", "Page actions by action and outcome.", "action", "outcome")
)
