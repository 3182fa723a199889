// Package config loads edgesim configuration.
//
// Loading order:
//  1. Default values
//  2. YAML file values (optional)
//  3. EDGESIM_* environment variables
//
// Example file:
//
//	mqtt:
//	  url: mqtts://broker.example.com:8883
//	  client_id: esp32
//	  protocol: v5
//	device:
//	  profile: esp32
//	  namespace: m5stack
//	  settle_delay: 500ms
//	  after_delete: rejoin
package config
