package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: LEVEL STATE
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- One row per user once anything has been recorded.
-- version is bumped on every write and checked by compare-and-swap.
CREATE TABLE IF NOT EXISTS level_state (
    user_id VARCHAR(128) PRIMARY KEY,
    current_level INTEGER NOT NULL DEFAULT 1,
    current_xp BIGINT NOT NULL DEFAULT 0,
    total_xp BIGINT NOT NULL DEFAULT 0,
    xp_to_next_level BIGINT NOT NULL DEFAULT 0,
    last_level_up_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    version BIGINT NOT NULL DEFAULT 1,

    CONSTRAINT valid_level CHECK (current_level >= 1),
    CONSTRAINT valid_total_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_current_xp CHECK (current_xp >= 0 AND current_xp <= total_xp),
    CONSTRAINT valid_version CHECK (version >= 1)
);

CREATE INDEX IF NOT EXISTS idx_level_state_total_xp ON level_state(total_xp DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS level_state;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ACTIVITIES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Append-only activity log. seq breaks ties between equal timestamps so
-- that the later append sorts first in newest-first reads.
CREATE TABLE IF NOT EXISTS activities (
    seq BIGSERIAL PRIMARY KEY,
    id VARCHAR(64) NOT NULL UNIQUE,
    user_id VARCHAR(128) NOT NULL,
    type VARCHAR(40) NOT NULL,
    xp_gained BIGINT NOT NULL,
    context JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_xp_gained CHECK (xp_gained >= 0),
    CONSTRAINT valid_type CHECK (type IN (
        'question_correct', 'question_incorrect', 'daily_login', 'streak_milestone',
        'quiz_completed', 'study_session', 'clinical_case_completed', 'achievement_unlocked'
    ))
);

CREATE INDEX IF NOT EXISTS idx_activities_user_created ON activities(user_id, created_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_activities_user_type ON activities(user_id, type, created_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS activities;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: USER ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- At most one unlock per (user, achievement), enforced by the primary key.
CREATE TABLE IF NOT EXISTS user_achievements (
    user_id VARCHAR(128) NOT NULL,
    achievement_id VARCHAR(64) NOT NULL,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL,
    progress INTEGER NOT NULL,
    max_progress INTEGER NOT NULL,
    seq BIGSERIAL NOT NULL,

    PRIMARY KEY (user_id, achievement_id),
    CONSTRAINT valid_progress CHECK (progress >= 0 AND progress <= max_progress)
);

CREATE INDEX IF NOT EXISTS idx_user_achievements_unlocked ON user_achievements(user_id, unlocked_at, seq);
`

const migration003Down = `
DROP TABLE IF EXISTS user_achievements;
`
