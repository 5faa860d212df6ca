// Package chat implements the grounded conversation pipeline: context
// assembly under token budgets, model tier selection, routing, and
// atomic persistence of each exchange.
package chat

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog/log"

	"github.com/sproutly/sproutly/server/internal/airouter"
	"github.com/sproutly/sproutly/server/internal/config"
	"github.com/sproutly/sproutly/server/internal/providers"
	"github.com/sproutly/sproutly/server/internal/store"
	"github.com/sproutly/sproutly/server/pkg/models"
)

// memoryHalfLife is the lazy decay half-life applied to stored
// relevance scores at read time.
const memoryHalfLife = 30 * 24 * time.Hour

// historyWindow caps recent history at the last 10 messages; the token
// budget trims further from the oldest end.
const historyWindow = 10

// EstimateTokens approximates the token count of text as ⌈chars/4⌉.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// AssembledContext is the grounded prompt handed to the router.
type AssembledContext struct {
	System string
	Turns  []providers.ChatTurn
	Used   models.ContextUsed

	// ActiveIssues feeds the tier decision.
	ActiveIssues []models.HealthIssue
	PlantHealth  models.HealthStatus
}

// Assembler gathers and budget-trims the four context sections.
type Assembler struct {
	store     store.Store
	router    *airouter.Router
	budgets   config.ContextConfig
	threshold float64
}

// NewAssembler creates the context assembler.
func NewAssembler(st store.Store, router *airouter.Router, budgets config.ContextConfig, memoryThreshold float64) *Assembler {
	return &Assembler{store: st, router: router, budgets: budgets, threshold: memoryThreshold}
}

// Assemble fans out the four sections in parallel: user facts, plant
// facts, conversation history, and semantic memories. Repository
// failures are fatal; a provider failure while embedding the query
// degrades the memory section to empty.
func (a *Assembler) Assemble(ctx context.Context, userID, plantID, sessionID, message string) (*AssembledContext, error) {
	var (
		user     *models.User
		plant    *models.Plant
		spec     *models.Species
		issues   []models.HealthIssue
		history  []models.Message
		memories []models.ScoredMemory
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		user, err = a.store.GetUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		return nil
	})

	if plantID != "" {
		g.Go(func() error {
			var err error
			plant, err = a.store.GetPlant(gctx, userID, plantID)
			if err != nil {
				return fmt.Errorf("load plant: %w", err)
			}
			spec, err = a.store.GetSpeciesByID(gctx, plant.SpeciesID)
			if err != nil {
				return fmt.Errorf("load species: %w", err)
			}
			issues, err = a.store.ListActiveIssues(gctx, plant.ID, 5)
			if err != nil {
				return fmt.Errorf("load issues: %w", err)
			}
			return nil
		})
	}

	if sessionID != "" {
		g.Go(func() error {
			var err error
			history, err = a.store.ListRecentMessages(gctx, sessionID, historyWindow)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		vector, _, err := a.router.EmbedOne(gctx, userID, message)
		if err != nil {
			// Memory retrieval rides on a provider; chat must still work
			// when it is down.
			log.Warn().Err(err).Msg("query embedding failed, skipping memories")
			return nil
		}
		memories, err = a.store.SearchMemories(gctx, userID, vector, 5, a.threshold)
		if err != nil {
			return fmt.Errorf("search memories: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	memories = decayMemories(memories, time.Now().UTC())

	out := &AssembledContext{}
	var sb strings.Builder
	sb.WriteString("You are Sprout, a friendly and knowledgeable plant-care assistant. ")
	sb.WriteString("Ground every answer in the facts below; say so when you are unsure.\n")

	if section := userSection(user); section != "" {
		sb.WriteString("\n## About the owner\n")
		sb.WriteString(trimToBudget(section, a.budgets.UserBudget))
		out.Used.UserFacts = true
	}
	if plant != nil {
		sb.WriteString("\n## The plant being discussed\n")
		sb.WriteString(trimToBudget(plantSection(plant, spec, issues), a.budgets.PlantBudget))
		out.Used.PlantFacts = true
		out.ActiveIssues = issues
		out.PlantHealth = plant.CurrentHealth
	}
	if len(memories) > 0 {
		section, count := memorySection(memories, a.budgets.MemoryBudget)
		if count > 0 {
			sb.WriteString("\n## Relevant past conversations\n")
			sb.WriteString(section)
			out.Used.MemoriesCount = count
		}
	}

	out.System = sb.String()
	out.Turns, out.Used.HistoryCount = historyTurns(history, a.budgets.HistoryBudget)
	out.Turns = append(out.Turns, providers.ChatTurn{Role: "user", Content: message})
	return out, nil
}

// decayMemories applies the lazy exponential relevance decay and
// re-sorts by the adjusted score.
func decayMemories(in []models.ScoredMemory, now time.Time) []models.ScoredMemory {
	out := make([]models.ScoredMemory, 0, len(in))
	for _, m := range in {
		age := now.Sub(m.Memory.CreatedAt)
		decay := math.Pow(0.5, age.Hours()/memoryHalfLife.Hours())
		m.Similarity *= m.Memory.RelevanceScore * decay
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

func userSection(u *models.User) string {
	var parts []string
	if u.DisplayName != "" {
		parts = append(parts, "Name: "+u.DisplayName)
	}
	if u.Experience != "" {
		parts = append(parts, "Experience level: "+string(u.Experience))
	}
	if u.City != "" {
		parts = append(parts, "City: "+u.City)
	}
	if u.ClimateZone != "" {
		parts = append(parts, "Climate zone: "+u.ClimateZone)
	}
	if u.HomeType != "" {
		parts = append(parts, "Home: "+u.HomeType)
	}
	if u.LightLevel != "" {
		parts = append(parts, "Typical light: "+u.LightLevel)
	}
	if u.HumidityLevel != "" {
		parts = append(parts, "Typical humidity: "+u.HumidityLevel)
	}
	return strings.Join(parts, "\n")
}

func plantSection(p *models.Plant, sp *models.Species, issues []models.HealthIssue) string {
	var parts []string
	name := p.Nickname
	if name == "" {
		name = sp.ScientificName
	}
	parts = append(parts, "Name: "+name)
	parts = append(parts, "Species: "+sp.ScientificName)
	if len(sp.CommonNames) > 0 {
		parts = append(parts, "Also known as: "+strings.Join(sp.CommonNames, ", "))
	}
	parts = append(parts, "Care difficulty: "+string(sp.Difficulty))
	if sp.LightNeeds != "" && sp.LightNeeds != "Unknown" {
		parts = append(parts, "Light needs: "+sp.LightNeeds)
	}
	if sp.WaterFrequency != "" && sp.WaterFrequency != "Unknown" {
		parts = append(parts, "Watering: "+sp.WaterFrequency)
	}
	if sp.Toxicity != "" {
		parts = append(parts, "Toxicity: "+sp.Toxicity)
	}
	parts = append(parts, "Location in home: "+p.LocationInHome)
	parts = append(parts, "Current health: "+string(p.CurrentHealth))
	if p.LastWatered != nil {
		parts = append(parts, "Last watered: "+p.LastWatered.Format("2006-01-02"))
	}
	for _, issue := range issues {
		parts = append(parts, fmt.Sprintf("Active issue: %s (confidence %.0f%%)", issue.Name, issue.Confidence*100))
	}
	return strings.Join(parts, "\n")
}

// memorySection renders memories best-first until the budget runs out,
// dropping whole memories rather than truncating them.
func memorySection(memories []models.ScoredMemory, budget int) (string, int) {
	var sb strings.Builder
	spent, count := 0, 0
	for _, m := range memories {
		line := "- " + m.Memory.Content + "\n"
		cost := EstimateTokens(line)
		if spent+cost > budget {
			break
		}
		sb.WriteString(line)
		spent += cost
		count++
	}
	return sb.String(), count
}

// historyTurns keeps the most recent whole messages that fit the
// budget, at most historyWindow of them, preserving chronological order.
func historyTurns(history []models.Message, budget int) ([]providers.ChatTurn, int) {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	spent := 0
	keepFrom := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateTokens(history[i].Content)
		if spent+cost > budget {
			break
		}
		spent += cost
		keepFrom = i
	}

	var turns []providers.ChatTurn
	for _, m := range history[keepFrom:] {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "assistant"
		}
		turns = append(turns, providers.ChatTurn{Role: role, Content: m.Content})
	}
	return turns, len(history) - keepFrom
}

// trimToBudget hard-truncates a section to its token budget.
func trimToBudget(section string, budget int) string {
	if EstimateTokens(section) <= budget {
		return section
	}
	max := budget * 4
	if max > len(section) {
		max = len(section)
	}
	return section[:max]
}
