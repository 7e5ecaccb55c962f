package store

// Table names
const (
	TableAudioMetrics   = "audio_metrics"
	TableMembership     = "audio_to_dataset"
	TableOriginalText   = "audio_to_original_text"
	TableASRText        = "audio_to_asr_text"
	TableTextComparison = "text_comparison_metrics"
	TableAlignment      = "audio_to_alignment"
)

// AllTables lists the metrics tables in dependency order
var AllTables = []string{
	TableAudioMetrics,
	TableMembership,
	TableOriginalText,
	TableASRText,
	TableTextComparison,
	TableAlignment,
}

type migration struct {
	version    int
	statements []string
}

type dialect struct {
	name        string
	tableExists string
	migrations  []migration
}

var sqliteDialect = &dialect{
	name:        DriverSQLite,
	tableExists: "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
	migrations: []migration{
		{version: 1, statements: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
			`CREATE TABLE IF NOT EXISTS audio_metrics (
  audio_md5_hash TEXT PRIMARY KEY,
  duration_seconds REAL NOT NULL,
  sample_rate INTEGER NOT NULL,
  channels INTEGER NOT NULL,
  pcm_format TEXT NOT NULL,
  snr REAL NOT NULL,
  dbfs REAL NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS audio_to_dataset (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  audio_md5_hash TEXT NOT NULL REFERENCES audio_metrics(audio_md5_hash),
  dataset_name TEXT NOT NULL,
  path_to_file TEXT NOT NULL,
  speaker_id INTEGER NOT NULL DEFAULT -1,
  UNIQUE (dataset_name, path_to_file)
)`,
			`CREATE TABLE IF NOT EXISTS audio_to_original_text (
  audio_md5_hash TEXT PRIMARY KEY REFERENCES audio_metrics(audio_md5_hash),
  text TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS audio_to_asr_text (
  audio_md5_hash TEXT PRIMARY KEY REFERENCES audio_metrics(audio_md5_hash),
  text TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS text_comparison_metrics (
  audio_md5_hash TEXT PRIMARY KEY REFERENCES audio_metrics(audio_md5_hash),
  wer REAL NOT NULL,
  cer REAL NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS audio_to_alignment (
  audio_md5_hash TEXT PRIMARY KEY REFERENCES audio_metrics(audio_md5_hash),
  alignment_data TEXT NOT NULL
)`,
		}},
		// v2: characters per second on both transcript tables
		{version: 2, statements: []string{
			`ALTER TABLE audio_to_original_text ADD COLUMN cps REAL`,
			`ALTER TABLE audio_to_asr_text ADD COLUMN cps REAL`,
			`CREATE INDEX IF NOT EXISTS idx_audio_to_dataset_hash ON audio_to_dataset(audio_md5_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_audio_to_dataset_speaker ON audio_to_dataset(dataset_name, speaker_id)`,
		}},
	},
}

// MySQL commits DDL implicitly, so a failed migration may leave part of a
// version applied. Every statement is safe to re-run except the ALTERs.
var mysqlDialect = &dialect{
	name:        DriverMySQL,
	tableExists: "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
	migrations: []migration{
		{version: 1, statements: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
  version INT PRIMARY KEY,
  applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB`,
			`CREATE TABLE IF NOT EXISTS audio_metrics (
  audio_md5_hash CHAR(32) PRIMARY KEY,
  duration_seconds DOUBLE NOT NULL,
  sample_rate INT NOT NULL,
  channels INT NOT NULL,
  pcm_format VARCHAR(32) NOT NULL,
  snr DOUBLE NOT NULL,
  dbfs DOUBLE NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS audio_to_dataset (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  audio_md5_hash CHAR(32) NOT NULL,
  dataset_name VARCHAR(255) NOT NULL,
  path_to_file VARCHAR(512) NOT NULL,
  speaker_id INT NOT NULL DEFAULT -1,
  UNIQUE KEY uq_dataset_path (dataset_name, path_to_file),
  CONSTRAINT fk_dataset_audio FOREIGN KEY (audio_md5_hash) REFERENCES audio_metrics(audio_md5_hash)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS audio_to_original_text (
  audio_md5_hash CHAR(32) PRIMARY KEY,
  text TEXT NOT NULL,
  CONSTRAINT fk_original_audio FOREIGN KEY (audio_md5_hash) REFERENCES audio_metrics(audio_md5_hash)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS audio_to_asr_text (
  audio_md5_hash CHAR(32) PRIMARY KEY,
  text TEXT NOT NULL,
  CONSTRAINT fk_asr_audio FOREIGN KEY (audio_md5_hash) REFERENCES audio_metrics(audio_md5_hash)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS text_comparison_metrics (
  audio_md5_hash CHAR(32) PRIMARY KEY,
  wer DOUBLE NOT NULL,
  cer DOUBLE NOT NULL,
  CONSTRAINT fk_comparison_audio FOREIGN KEY (audio_md5_hash) REFERENCES audio_metrics(audio_md5_hash)
) ENGINE=InnoDB`,
			`CREATE TABLE IF NOT EXISTS audio_to_alignment (
  audio_md5_hash CHAR(32) PRIMARY KEY,
  alignment_data LONGTEXT NOT NULL,
  CONSTRAINT fk_alignment_audio FOREIGN KEY (audio_md5_hash) REFERENCES audio_metrics(audio_md5_hash)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}},
		{version: 2, statements: []string{
			`ALTER TABLE audio_to_original_text ADD COLUMN cps DOUBLE NULL`,
			`ALTER TABLE audio_to_asr_text ADD COLUMN cps DOUBLE NULL`,
			`CREATE INDEX idx_audio_to_dataset_speaker ON audio_to_dataset(dataset_name, speaker_id)`,
		}},
	},
}
