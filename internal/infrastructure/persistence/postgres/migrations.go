package postgres

// Text keys use the "C" collation so ORDER BY matches the byte order the
// in-memory store and the state root rely on.

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE INTAKES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Intake registry
CREATE TABLE IF NOT EXISTS intakes (
    institution TEXT COLLATE "C" NOT NULL,
    intake_index BIGINT NOT NULL,
    application_opens BIGINT NOT NULL,
    application_closes BIGINT NOT NULL,
    max_applicants BIGINT NOT NULL,
    max_accepted BIGINT NOT NULL,
    status VARCHAR(16) NOT NULL,

    PRIMARY KEY (institution, intake_index),

    CONSTRAINT valid_status CHECK (status IN ('pending', 'ongoing', 'closed', 'finalised')),
    CONSTRAINT valid_window CHECK (application_closes > application_opens),
    CONSTRAINT valid_caps CHECK (max_accepted > 0 AND max_accepted <= max_applicants)
);

-- Closing index: one row per intake still waiting for the sweep
CREATE TABLE IF NOT EXISTS intake_closing (
    block BIGINT NOT NULL,
    institution TEXT COLLATE "C" NOT NULL,
    intake_index BIGINT NOT NULL,

    PRIMARY KEY (block, institution, intake_index)
);

-- Most recent intake per institution
CREATE TABLE IF NOT EXISTS last_intakes (
    institution TEXT COLLATE "C" PRIMARY KEY,
    intake_index BIGINT NOT NULL
);
`

const migration001Down = `
DROP TABLE IF EXISTS last_intakes;
DROP TABLE IF EXISTS intake_closing;
DROP TABLE IF EXISTS intakes;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE APPLICATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Application journal, purged on finalisation
CREATE TABLE IF NOT EXISTS applications (
    institution TEXT COLLATE "C" NOT NULL,
    intake_index BIGINT NOT NULL,
    applicant TEXT COLLATE "C" NOT NULL,
    applied_on BIGINT NOT NULL,
    document VARCHAR(300) NOT NULL DEFAULT '',

    PRIMARY KEY (institution, intake_index, applicant),
    FOREIGN KEY (institution, intake_index) REFERENCES intakes(institution, intake_index)
);

-- Acceptance marks outlive the applications they came from
CREATE TABLE IF NOT EXISTS acceptances (
    institution TEXT COLLATE "C" NOT NULL,
    intake_index BIGINT NOT NULL,
    applicant TEXT COLLATE "C" NOT NULL,

    PRIMARY KEY (institution, intake_index, applicant),
    FOREIGN KEY (institution, intake_index) REFERENCES intakes(institution, intake_index)
);
`

const migration002Down = `
DROP TABLE IF EXISTS acceptances;
DROP TABLE IF EXISTS applications;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE LEDGER HEAD
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Last sealed block, a single row
CREATE TABLE IF NOT EXISTS ledger_head (
    id SMALLINT PRIMARY KEY DEFAULT 1,
    number BIGINT NOT NULL,
    hash BYTEA NOT NULL,
    sealed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT single_row CHECK (id = 1),
    CONSTRAINT hash_size CHECK (octet_length(hash) = 32)
);
`

const migration003Down = `
DROP TABLE IF EXISTS ledger_head;
`

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_intakes",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_applications",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_ledger_head",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}
