// Package config loads the kernel settings and the hardware description.
//
// Kernel settings are read with viper from a YAML file and DCL_ prefixed environment
// variables, e.g. DCL_TICK_PERIOD=20ms or DCL_TRANSPORT_PORT=/dev/ttyACM0.
//
// The hardware description lists the slave nodes, their function modules with the
// module specific parameters, and the devices composed of those modules:
//
//	nodes:
//	  - name: oven_node
//	    type: 2
//	    index: 1
//	    modules:
//	      - key: cover_motor
//	        channel: 0
//	        object_type: stepper_motor
//	        params:
//	          max_speed: 800
//	devices:
//	  - name: oven
//	    type: oven
//	    modules:
//	      - role: cover_motor
//	        module: cover_motor
//
// The description is validated against an embedded JSON schema before it is decoded.
package config
