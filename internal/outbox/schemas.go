package outbox

const workoutUpdatedSchema = `{
  "type": "object",
  "title": "WorkoutUpdated",
  "properties": {
    "record_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "category": {"type": "string"},
    "start_date": {"type": "string", "format": "date-time"},
    "stress": {"type": "number"},
    "needs_review": {"type": "boolean"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["record_id", "tenant_id", "user_id", "category", "start_date", "stress", "needs_review", "occurred_at"],
  "additionalProperties": false
}`

const metricsRecomputedSchema = `{
  "type": "object",
  "title": "MetricsRecomputed",
  "properties": {
    "tenant_id": {"type": "string"},
    "from": {"type": "string", "format": "date-time"},
    "through": {"type": "string", "format": "date-time"},
    "days": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "from", "through", "days", "occurred_at"],
  "additionalProperties": false
}`
