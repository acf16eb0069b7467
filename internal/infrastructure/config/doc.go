// Package config provides 12-factor configuration management for readpipe.
//
// Configuration is loaded from environment variables with sensible defaults,
// optionally overlaid with a TOML or YAML file. CLI flags override both.
//
// Precedence, lowest first: defaults, environment, file, flags.
//
// Configuration Sections:
//   - Pipeline: per-stage threads, queue capacity, device, input discovery
//   - Basecall: model, chunking, batching, modbase, filters, reference
//   - Correction: windowing, batching, worker counts, buffer pool
//   - Model: optional remote model service
//   - Barcode: kit selection and trimming
//   - PolyTail: poly(A)/poly(T) estimation
//   - Output: record format, destination and compression
//   - Logging: log level and output format
//   - Server: status server address
//   - RateLimit: status server rate limiting
//
// Example Usage:
//
//	cfg, err := config.LoadFile("run.toml")
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//
// Environment Variables (each may also be given with its section prefix):
//   - READPIPE_THREADS, READPIPE_QUEUE, READPIPE_DEVICE
//   - BASECALL_MODEL, BASECALL_CHUNK, BASECALL_OVERLAP, MODBASE_MODEL
//   - CORRECT_WINDOW, CORRECT_BATCH, CORRECT_POOL_SLOTS
//   - MODEL_URL, MODEL_TOKEN, MODEL_RPS
//   - OUTPUT_FORMAT, OUTPUT_PATH, OUTPUT_COMPRESSION
//   - LOG_LEVEL, LOG_DEV, STATUS_ADDR
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
