// Package lmqttcore implements the non-blocking core of an MQTT 3.1.1
// client: wire codec, in-flight bookkeeping, and a single-threaded state
// machine that never itself performs I/O.
//
// Every blocking decision — opening a socket, reading/writing bytes,
// allocating storage for an inbound message, waking up on a timer — is left
// to the caller. The client only ever touches the byte slices and callbacks
// it is handed; there is no internal goroutine, no buffered channel, and no
// allocation on the steady-state path.
//
// # Quick Start
//
//	cfg := lmqttcore.Config{
//	    GetTime: func() clock.Time { ... },
//	    Read:    readFromSocket,
//	    Write:   writeToSocket,
//
//	    ConnectStoreBuf: make([]store.Entry, 0, 1),
//	    MainStoreBuf:    make([]store.Entry, 0, 16),
//	    RXBuf:           make([]byte, 4096),
//	    TXBuf:           make([]byte, 4096),
//	    IDSetBuf:        make([]uint16, 0, 16),
//
//	    Publish: lmqttcore.PublishCallbacks{
//	        AllocateTopic:   allocateTopic,
//	        AllocatePayload: allocatePayload,
//	        OnPublish:       onPublish,
//	    },
//	}
//	client := lmqttcore.New(cfg)
//
//	client.Connect(&lmqttcore.Connect{ClientID: strref.Bytes([]byte("demo")), CleanSession: true, KeepAlive: 30}, nil)
//	for client.State() != lmqttcore.StateFailed {
//	    status := client.RunOnce()
//	    if status.IsEOF() {
//	        break
//	    }
//	    // block on whatever the caller's event loop blocks on, then loop
//	}
//
// # Driving the client
//
// RunOnce is the only entry point that moves bytes. It performs a bounded,
// non-blocking step — check keep-alive, drain the output buffer into the
// socket, drain the socket into the input buffer, repeat while new work was
// queued and the connection isn't blocked for write — and returns
// immediately with a Status bitmask describing what each direction
// suspended on. A caller typically calls RunOnce once per readiness
// notification from whatever I/O multiplexer it already uses (epoll,
// kqueue, an event loop, or a plain blocking loop with short timeouts).
//
// # Commands
//
// Connect, Subscribe, Unsubscribe, Publish and Disconnect validate their
// argument and place it on one of two fixed-capacity stores; they never
// block and never allocate beyond the completion closure the caller
// optionally supplies. Each accepted command's CompletionFunc fires exactly
// once, with succeeded=true on the matching acknowledgement and
// succeeded=false if the client fails or finalizes first.
//
// # Inbound messages
//
// PublishCallbacks.AllocateTopic/AllocatePayload are asked for storage as
// soon as each length is known on the wire, OnPublish fires once both have
// arrived in full, and OnPublishDone fires right after it so the caller can
// release what it allocated. Neither fires for an ignored PUBLISH (including
// a duplicate QoS-2 id) or one whose decode fails. Returning AllocateIgnore
// from either allocator discards the rest of that PUBLISH: its remaining
// bytes are skipped without ever being handed to the caller, and the payload
// allocator is not asked after an ignored topic — useful for a subscriber
// that only cares about topics matching a filter it tracks itself.
package lmqttcore
