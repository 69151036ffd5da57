// Package config provides configuration parsing for acceptd.
//
// The configuration is stored in acceptd.json, next to the binary or in the
// directory passed with --config. This package handles loading, saving, and
// validating configuration. Command-line flags override file values.
//
// # Configuration File Structure
//
//	{
//	  "address": "0.0.0.0",
//	  "port": 8080,
//	  "backlog": 1,
//	  "workers": 4,
//	  "pollInterval": "1s",
//	  "readBufferSize": 30720,
//	  "readTimeout": "30s",
//	  "writeTimeout": "10s",
//	  "response": {
//	    "source": "s3",
//	    "s3": {
//	      "bucket": "site",
//	      "key": "index.html",
//	      "region": "eu-west-1"
//	    }
//	  },
//	  "admin": {
//	    "enabled": true,
//	    "address": "127.0.0.1:9090"
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "json"
//	  }
//	}
//
// Durations are Go duration strings. "0" disables the read and write
// deadlines.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sc, err := cfg.ServerConfig()
package config
