package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"partner_portal/internal/models"
	"partner_portal/internal/stages"
)

const collSettings = "settings"

func GetStages(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Stages.Get(c)
		if err != nil {
			d.fail(c, err, "failed to load stages")
			return
		}
		c.JSON(http.StatusOK, gin.H{"stages": list, "defaults": d.Stages.Defaults()})
	}
}

// SaveStages replaces the whole list. Blank and duplicate names are dropped.
func SaveStages(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Stages []string `json:"stages"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		list, err := d.Stages.Save(c, in.Stages)
		d.stagesChanged(c, "save", list, err)
	}
}

func AddStage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Name string `json:"name"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		list, err := d.Stages.Update(c, func(cur []string) ([]string, error) {
			return stages.Add(cur, in.Name)
		})
		d.stagesChanged(c, "add", list, err)
	}
}

func RenameStage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		i, ok := stageIndex(c)
		if !ok {
			return
		}
		var in struct {
			Name string `json:"name"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var from, to string
		list, err := d.Stages.Update(c, func(cur []string) ([]string, error) {
			next, err := stages.Rename(cur, i, in.Name)
			if err == nil {
				from, to = cur[i], next[i]
			}
			return next, err
		})
		if err == nil && from != to {
			n, err := d.Partners.RenameStatus(c, from, to)
			if err != nil {
				d.fail(c, err, "failed to move partners to the renamed stage")
				return
			}
			d.Log.Info("renamed onboarding stage", zap.String("from", from), zap.String("to", to), zap.Int64("partners", n))
		}
		d.stagesChanged(c, "rename", list, err)
	}
}

func RemoveStage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		i, ok := stageIndex(c)
		if !ok {
			return
		}
		cur, err := d.Stages.Get(c)
		if err != nil {
			d.fail(c, err, "failed to load stages")
			return
		}
		if i < len(cur) {
			n, err := d.Partners.CountStatus(c, cur[i])
			if err != nil {
				d.fail(c, err, "failed to count partners")
				return
			}
			if n > 0 {
				c.JSON(http.StatusConflict, gin.H{
					"error":    fmt.Sprintf("%d partner(s) are still in stage %q", n, cur[i]),
					"partners": n,
				})
				return
			}
		}
		list, err := d.Stages.Update(c, func(cur []string) ([]string, error) {
			return stages.Remove(cur, i)
		})
		d.stagesChanged(c, "remove", list, err)
	}
}

// MoveStage shifts the stage at :index one place up or down.
func MoveStage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		i, ok := stageIndex(c)
		if !ok {
			return
		}
		var in struct {
			Direction string `json:"direction" binding:"required,oneof=up down"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be up or down"})
			return
		}
		move := stages.MoveDown
		if in.Direction == "up" {
			move = stages.MoveUp
		}
		list, err := d.Stages.Update(c, func(cur []string) ([]string, error) {
			return move(cur, i)
		})
		d.stagesChanged(c, "move", list, err)
	}
}

func ResetStages(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Stages.Reset(c)
		d.stagesChanged(c, "reset", list, err)
	}
}

func (d *Deps) stagesChanged(c *gin.Context, op string, list []string, err error) {
	if err != nil {
		d.fail(c, err, "failed to save stages")
		return
	}
	d.audit(c, "settings.stages."+op, "settings", models.StagesSettingsID, "", map[string]any{"stages": list})
	d.publish("updated", collSettings, models.StagesSettingsID, "")
	c.JSON(http.StatusOK, gin.H{"stages": list})
}

func stageIndex(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil || i < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": stages.ErrOutOfRange.Error()})
		return 0, false
	}
	return i, true
}
