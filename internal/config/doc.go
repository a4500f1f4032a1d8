// Package config loads, normalizes, and validates speecheval configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SPEECHEVAL_ASR_A_KEY. The Config type centralizes every knob the daemon and
// CLI need, from ASR endpoints and the LLM model priority list to lease and
// retry budgets for the workflow.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
