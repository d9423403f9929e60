// Package config loads fmq configuration: queue geometry and writer policy,
// reader defaults, the checkpoint directory and logging.
//
// Example:
//
//	cfg, err := config.Load("/etc/fmq.json")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	w, err := fmq.OpenWriter(ctx, path, cfg.WriterOptions(logger))
package config
