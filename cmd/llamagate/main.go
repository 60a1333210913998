// Command llamagate is an OpenAI-compatible HTTP gateway in front of a
// native GGUF inference library, serializing model occupancy behind a
// single-slot supervisor so only one worker subprocess ever holds GPU
// memory at a time.
//
// Usage:
//
//	# Start the gateway
//	llamagate serve
//
//	# Start with a custom configuration file
//	llamagate serve --config /etc/llamagate/config.yaml
//
//	# Inspect/operate a running gateway
//	llamagate models list
//	llamagate models unload mistral-7b
//	llamagate models stop
package main

func main() {
	Execute()
}
