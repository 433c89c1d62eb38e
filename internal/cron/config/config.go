package cron_config

type Config struct {
	CronScheduleHeartbeat         string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 */30 * * * *"`
	CronScheduleReconcileAccounts string `env:"CRON_SCHEDULE_RECONCILE_ACCOUNTS" envDefault:"0 */5 * * * *"`
}
