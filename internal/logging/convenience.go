package logging

// Quick logging helpers, one pair per category, so callers don't have to
// fetch a *Logger first. All are no-ops if the category is disabled.

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func CLI(format string, args ...interface{})      { Get(CategoryCLI).Info(format, args...) }
func CLIError(format string, args ...interface{}) { Get(CategoryCLI).Error(format, args...) }

func Engine(format string, args ...interface{})      { Get(CategoryEngine).Info(format, args...) }
func EngineDebug(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }
func EngineWarn(format string, args ...interface{})  { Get(CategoryEngine).Warn(format, args...) }
func EngineError(format string, args ...interface{}) { Get(CategoryEngine).Error(format, args...) }

func Embedding(format string, args ...interface{})      { Get(CategoryEmbedding).Info(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) { Get(CategoryEmbedding).Debug(format, args...) }
func EmbeddingError(format string, args ...interface{}) { Get(CategoryEmbedding).Error(format, args...) }

func VectorStore(format string, args ...interface{})      { Get(CategoryVectorStore).Info(format, args...) }
func VectorStoreDebug(format string, args ...interface{}) { Get(CategoryVectorStore).Debug(format, args...) }
func VectorStoreWarn(format string, args ...interface{})  { Get(CategoryVectorStore).Warn(format, args...) }
func VectorStoreError(format string, args ...interface{}) { Get(CategoryVectorStore).Error(format, args...) }

func LLM(format string, args ...interface{})      { Get(CategoryLLM).Info(format, args...) }
func LLMDebug(format string, args ...interface{}) { Get(CategoryLLM).Debug(format, args...) }
func LLMWarn(format string, args ...interface{})  { Get(CategoryLLM).Warn(format, args...) }
func LLMError(format string, args ...interface{}) { Get(CategoryLLM).Error(format, args...) }

func Router(format string, args ...interface{})      { Get(CategoryRouter).Info(format, args...) }
func RouterDebug(format string, args ...interface{}) { Get(CategoryRouter).Debug(format, args...) }
func RouterWarn(format string, args ...interface{})  { Get(CategoryRouter).Warn(format, args...) }

func Artifact(format string, args ...interface{})      { Get(CategoryArtifact).Info(format, args...) }
func ArtifactDebug(format string, args ...interface{}) { Get(CategoryArtifact).Debug(format, args...) }
func ArtifactError(format string, args ...interface{}) { Get(CategoryArtifact).Error(format, args...) }

func Classify(format string, args ...interface{})      { Get(CategoryClassify).Info(format, args...) }
func ClassifyDebug(format string, args ...interface{}) { Get(CategoryClassify).Debug(format, args...) }
func ClassifyWarn(format string, args ...interface{})  { Get(CategoryClassify).Warn(format, args...) }

func Cache(format string, args ...interface{})      { Get(CategoryCache).Info(format, args...) }
func CacheDebug(format string, args ...interface{}) { Get(CategoryCache).Debug(format, args...) }
func CacheWarn(format string, args ...interface{})  { Get(CategoryCache).Warn(format, args...) }

func Plan(format string, args ...interface{})      { Get(CategoryPlan).Info(format, args...) }
func PlanDebug(format string, args ...interface{}) { Get(CategoryPlan).Debug(format, args...) }

func Generate(format string, args ...interface{})      { Get(CategoryGenerate).Info(format, args...) }
func GenerateDebug(format string, args ...interface{}) { Get(CategoryGenerate).Debug(format, args...) }

func Validate(format string, args ...interface{})      { Get(CategoryValidate).Info(format, args...) }
func ValidateDebug(format string, args ...interface{}) { Get(CategoryValidate).Debug(format, args...) }
func ValidateWarn(format string, args ...interface{})  { Get(CategoryValidate).Warn(format, args...) }

func Sandbox(format string, args ...interface{})      { Get(CategorySandbox).Info(format, args...) }
func SandboxDebug(format string, args ...interface{}) { Get(CategorySandbox).Debug(format, args...) }
func SandboxWarn(format string, args ...interface{})  { Get(CategorySandbox).Warn(format, args...) }
func SandboxError(format string, args ...interface{}) { Get(CategorySandbox).Error(format, args...) }

func TestOrch(format string, args ...interface{})      { Get(CategoryTestOrch).Info(format, args...) }
func TestOrchDebug(format string, args ...interface{}) { Get(CategoryTestOrch).Debug(format, args...) }

func Escalate(format string, args ...interface{})      { Get(CategoryEscalate).Info(format, args...) }
func EscalateDebug(format string, args ...interface{}) { Get(CategoryEscalate).Debug(format, args...) }
func EscalateWarn(format string, args ...interface{})  { Get(CategoryEscalate).Warn(format, args...) }

func Pressure(format string, args ...interface{})      { Get(CategoryPressure).Info(format, args...) }
func PressureDebug(format string, args ...interface{}) { Get(CategoryPressure).Debug(format, args...) }

func Evolve(format string, args ...interface{})      { Get(CategoryEvolve).Info(format, args...) }
func EvolveDebug(format string, args ...interface{}) { Get(CategoryEvolve).Debug(format, args...) }
func EvolveWarn(format string, args ...interface{})  { Get(CategoryEvolve).Warn(format, args...) }

func Toolkit(format string, args ...interface{})      { Get(CategoryToolkit).Info(format, args...) }
func ToolkitDebug(format string, args ...interface{}) { Get(CategoryToolkit).Debug(format, args...) }
