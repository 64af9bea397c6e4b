package logging

// Per-category convenience helpers. These keep call sites short and make the
// category explicit at the point of logging.

func Boot(format string, args ...any)          { Get(CategoryBoot).Info(format, args...) }
func EngineDebug(format string, args ...any)   { Get(CategoryEngine).Debug(format, args...) }
func EngineInfo(format string, args ...any)    { Get(CategoryEngine).Info(format, args...) }
func EngineError(format string, args ...any)   { Get(CategoryEngine).Error(format, args...) }
func StreamDebug(format string, args ...any)   { Get(CategoryStream).Debug(format, args...) }
func StreamWarn(format string, args ...any)    { Get(CategoryStream).Warn(format, args...) }
func CostDebug(format string, args ...any)     { Get(CategoryCost).Debug(format, args...) }
func CostWarn(format string, args ...any)      { Get(CategoryCost).Warn(format, args...) }
func ToolsDebug(format string, args ...any)    { Get(CategoryTools).Debug(format, args...) }
func ToolsWarn(format string, args ...any)     { Get(CategoryTools).Warn(format, args...) }
func QualityDebug(format string, args ...any)  { Get(CategoryQuality).Debug(format, args...) }
func QualityInfo(format string, args ...any)   { Get(CategoryQuality).Info(format, args...) }
func SandboxDebug(format string, args ...any)  { Get(CategorySandbox).Debug(format, args...) }
func SandboxWarn(format string, args ...any)   { Get(CategorySandbox).Warn(format, args...) }
func AgentDebug(format string, args ...any)    { Get(CategoryAgent).Debug(format, args...) }
func AgentWarn(format string, args ...any)     { Get(CategoryAgent).Warn(format, args...) }
func PoolDebug(format string, args ...any)     { Get(CategoryPool).Debug(format, args...) }
func PoolWarn(format string, args ...any)      { Get(CategoryPool).Warn(format, args...) }
func PlannerDebug(format string, args ...any)  { Get(CategoryPlanner).Debug(format, args...) }
func PlannerInfo(format string, args ...any)   { Get(CategoryPlanner).Info(format, args...) }
func SwarmDebug(format string, args ...any)    { Get(CategorySwarm).Debug(format, args...) }
func SwarmInfo(format string, args ...any)     { Get(CategorySwarm).Info(format, args...) }
func SwarmWarn(format string, args ...any)     { Get(CategorySwarm).Warn(format, args...) }
func ReasonDebug(format string, args ...any)   { Get(CategoryReason).Debug(format, args...) }
func MemoryDebug(format string, args ...any)   { Get(CategoryMemory).Debug(format, args...) }
func MemoryWarn(format string, args ...any)    { Get(CategoryMemory).Warn(format, args...) }
func WebhookDebug(format string, args ...any)  { Get(CategoryWebhook).Debug(format, args...) }
func WebhookWarn(format string, args ...any)   { Get(CategoryWebhook).Warn(format, args...) }
