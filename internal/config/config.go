package config

const (
	DefaultTimeZone = "Africa/Abidjan"

	// Staging loads are chunked so a failed batch aborts the whole load
	// without ever leaving a partial run visible.
	StagingBatchSize = 100

	// Purge staging rows of imported runs older than this many days.
	StagingRetentionDays  = 7
	DefaultPurgeSchedule  = "0 2 * * *"
	DefaultAlertSchedule  = "30 6 * * 1-5"
	DepassementAlertLimit = 50
)
