package config

import "github.com/spf13/viper"

// setDefaults registers every key, so each one can also be set from the
// environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("system_name", "ammd")
	v.SetDefault("log_level", "info")

	v.SetDefault("pool.owner", "0x00000000000000000000000000000000000000a0")
	v.SetDefault("pool.account", "0x00000000000000000000000000000000000000a1")
	v.SetDefault("pool.asset_a", "0x00000000000000000000000000000000000000aa")
	v.SetDefault("pool.asset_b", "0x00000000000000000000000000000000000000bb")
	v.SetDefault("pool.transfer_deposit", "1")
	v.SetDefault("pool.receipt_cache_size", 1024)
	v.SetDefault("pool.resync_frequency", "0s")

	v.SetDefault("store.dir", "")
	v.SetDefault("store.snapshot", "main")

	v.SetDefault("ethereum.rpc_url", "")
	v.SetDefault("ethereum.timeout", "10s")
}
