package sqlstore

// schemas DDL зеркала по драйверам, все выражения идемпотентны
var schemas = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS RunReports (
			RunID       TEXT PRIMARY KEY,
			DetectedAt  DATETIME NOT NULL,
			Status      TEXT NOT NULL,
			ChangeCount INTEGER NOT NULL,
			Payload     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ChangeEvents (
			RunID        TEXT NOT NULL REFERENCES RunReports(RunID),
			TargetID     TEXT NOT NULL,
			URL          TEXT NOT NULL,
			PreviousHash TEXT NOT NULL,
			CurrentHash  TEXT NOT NULL,
			DetectedAt   DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS IX_ChangeEvents_TargetID ON ChangeEvents (TargetID, DetectedAt)`,
	},
	DriverSQLServer: {
		`IF OBJECT_ID(N'dbo.RunReports', N'U') IS NULL
		CREATE TABLE dbo.RunReports (
			RunID       NVARCHAR(64)  NOT NULL PRIMARY KEY,
			DetectedAt  DATETIME2     NOT NULL,
			Status      NVARCHAR(32)  NOT NULL,
			ChangeCount INT           NOT NULL,
			Payload     NVARCHAR(MAX) NOT NULL
		)`,
		`IF OBJECT_ID(N'dbo.ChangeEvents', N'U') IS NULL
		CREATE TABLE dbo.ChangeEvents (
			RunID        NVARCHAR(64)  NOT NULL REFERENCES dbo.RunReports(RunID),
			TargetID     NVARCHAR(128) NOT NULL,
			URL          NVARCHAR(2048) NOT NULL,
			PreviousHash NVARCHAR(128) NOT NULL,
			CurrentHash  NVARCHAR(128) NOT NULL,
			DetectedAt   DATETIME2     NOT NULL
		)`,
		`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'IX_ChangeEvents_TargetID')
		CREATE INDEX IX_ChangeEvents_TargetID ON dbo.ChangeEvents (TargetID, DetectedAt)`,
	},
}
