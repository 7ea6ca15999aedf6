// Package config handles loading and validating FindSpot device agent
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (FINDSPOT_* prefix)
//   - Validating required fields before the agent starts
//
// Secrets (the credential salt, the bootstrap password) should arrive via
// environment variables in real deployments; the YAML file is for everything
// a deployment can safely commit to disk.
package config
