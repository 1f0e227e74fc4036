// Package web3 houses blockchain connectivity types shared across the
// gateway: unsigned transaction parameters, the YAML-backed token registry,
// and the reader/broadcaster interfaces higher layers depend on. Concrete
// RPC implementations live in the ethereum subpackage.
package web3
