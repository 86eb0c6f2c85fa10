package outbox

const activityCompletedSchema = `{
  "type": "object",
  "title": "ActivityCompleted",
  "properties": {
    "record_id": {"type": "string"},
    "couple_key": {"type": "string"},
    "activity_type": {"type": "string", "enum": ["daily_question", "game", "exercise", "quiz"]},
    "activity_name": {"type": "string"},
    "actor_id": {"type": "string"},
    "actor_display_name": {"type": "string"},
    "recipient_id": {"type": "string"},
    "completed_at": {"type": "string", "format": "date-time"}
  },
  "required": ["record_id", "couple_key", "activity_type", "activity_name", "actor_id", "recipient_id", "completed_at"],
  "additionalProperties": false
}`
