package db

// SchemaSQL contains the database schema initialization SQL.
// The UNIQUE index on job_event.dedup_key is load-bearing: it is the
// distributed compare-and-set that makes callback application exactly-once.
const SchemaSQL = `
    -- ==========================================================================
    -- TASK TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS task SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner_id ON task TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS kind ON task TYPE string;
    DEFINE FIELD IF NOT EXISTS target_type ON task TYPE string;
    DEFINE FIELD IF NOT EXISTS target_id ON task TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON task TYPE string DEFAULT 'queued';
    DEFINE FIELD IF NOT EXISTS phase ON task TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS job_id ON task TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS purpose ON task TYPE string;
    DEFINE FIELD IF NOT EXISTS engine ON task TYPE string;
    DEFINE FIELD IF NOT EXISTS progress ON task TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS payload ON task TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS error ON task TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON task TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS started_at ON task TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS finished_at ON task TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS task_target ON task FIELDS owner_id, kind, target_type, target_id;
    DEFINE INDEX IF NOT EXISTS task_job ON task FIELDS job_id;
    DEFINE INDEX IF NOT EXISTS task_status ON task FIELDS status;

    -- ==========================================================================
    -- JOB EVENT TABLE (append-only audit + idempotency log)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job_event SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS dedup_key ON job_event TYPE string;
    DEFINE FIELD IF NOT EXISTS kind ON job_event TYPE string;
    DEFINE FIELD IF NOT EXISTS job_id ON job_event TYPE string;
    DEFINE FIELD IF NOT EXISTS task_id ON job_event TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS purpose ON job_event TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON job_event TYPE string;
    DEFINE FIELD IF NOT EXISTS source ON job_event TYPE string ASSERT $value IN ['callback', 'reconciler'];
    DEFINE FIELD IF NOT EXISTS event_seq ON job_event TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS event_id ON job_event TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS event_ts ON job_event TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS message ON job_event TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS payload ON job_event TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created_at ON job_event TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS job_event_dedup ON job_event FIELDS dedup_key UNIQUE;
    DEFINE INDEX IF NOT EXISTS job_event_job ON job_event FIELDS job_id;

    -- ==========================================================================
    -- PROXY TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS proxy SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS server ON proxy TYPE string;
    DEFINE FIELD IF NOT EXISTS port ON proxy TYPE int;
    DEFINE FIELD IF NOT EXISTS protocol ON proxy TYPE string DEFAULT 'http';
    DEFINE FIELD IF NOT EXISTS username ON proxy TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS password ON proxy TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS last_tested_at ON proxy TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS test_status ON proxy TYPE string DEFAULT 'pending' ASSERT $value IN ['pending', 'success', 'failed'];
    DEFINE FIELD IF NOT EXISTS response_time_ms ON proxy TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS created_at ON proxy TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- PROXY CHECK SETTINGS (singleton row)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS proxy_check_settings SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS test_url ON proxy_check_settings TYPE string;
    DEFINE FIELD IF NOT EXISTS timeout_ms ON proxy_check_settings TYPE int;
    DEFINE FIELD IF NOT EXISTS probe_bytes ON proxy_check_settings TYPE int;
    DEFINE FIELD IF NOT EXISTS concurrency ON proxy_check_settings TYPE int;

    -- ==========================================================================
    -- MEDIA / THREAD DOMAIN POINTERS (written by callback handlers)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS media SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner_id ON media TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS title ON media TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS video_key ON media TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS audio_key ON media TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS metadata_key ON media TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS subtitle_key ON media TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS transcript_key ON media TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS comments_key ON media TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error ON media TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS updated_at ON media TYPE datetime DEFAULT time::now();

    DEFINE TABLE IF NOT EXISTS thread SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner_id ON thread TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS title ON thread TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS rendered_video_key ON thread TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error ON thread TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS updated_at ON thread TYPE datetime DEFAULT time::now();
`
