// Package config loads the engine configuration from CUE.
//
// A config file is unified with the embedded #Config schema, checked for
// concreteness and decoded into Config. CUE reports unknown fields and type
// errors with file positions; Validate adds the cross-field rules CUE cannot
// express on its own, and Build turns a valid Config into the engine's
// configuration and collaborators.
//
// Example:
//
//	stock_strategy: "stock_item"
//	watched_aspects: ["price", "stock", "visibility"]
//	aspects: color: "attributes"
//	api_keys: {
//		default: stores: [1, 2]
//		wholesale: stores: [3]
//	}
package config
