package handler

import (
	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册 /api 路由
func RegisterRoutes(r *gin.Engine, h *Handlers, sessions middleware.SessionLoader, cookieName string) {
	r.GET("/health", Health)

	api := r.Group("/api")
	{
		// 认证 (无需登录)
		api.POST("/auth/login", h.Auth.Login)

		authorized := api.Group("")
		authorized.Use(middleware.SessionAuth(sessions, cookieName))
		{
			authorized.GET("/auth/me", h.Auth.Me)
			authorized.POST("/auth/logout", h.Auth.Logout)

			// 媒体
			authorized.GET("/media/:handle", h.Media.Serve)

			desk := authorized.Group("/desk")
			{
				desk.GET("/notifications", h.Record.Notifications)

				// 列表 / 查看（管理员 + 维修工）
				desk.GET("/records", h.Record.State)
				desk.POST("/records/search", h.Record.Search)
				desk.POST("/records/filters", h.Record.Filters)
				desk.POST("/records/page", h.Record.Page)
				desk.POST("/records/refresh", h.Record.Refresh)
				desk.POST("/records/:id/view", h.Record.OpenView)
				desk.DELETE("/records/view", h.Record.CloseView)
				desk.POST("/records/:id/media", h.Media.Open)
				desk.DELETE("/media", h.Media.Close)

				// 新建 / 编辑（管理员）
				adminDesk := desk.Group("", middleware.RequireRole(entity.RoleAdmin))
				{
					adminDesk.POST("/records", h.Record.Create)
					adminDesk.POST("/records/:id/edit", h.Record.OpenEdit)
					adminDesk.PATCH("/edit", h.Record.UpdateDraft)
					adminDesk.POST("/edit/items", h.Record.AddItem)
					adminDesk.PATCH("/edit/items/:index", h.Record.UpdateItem)
					adminDesk.DELETE("/edit/items/:index", h.Record.RemoveItem)
					adminDesk.POST("/edit/catalog", h.Record.CreateCatalogItem)
					adminDesk.POST("/edit/submit", h.Record.SubmitEdit)
					adminDesk.DELETE("/edit", h.Record.CancelEdit)
				}

				// 接单（维修工）
				jobs := desk.Group("/jobs", middleware.RequireRole(entity.RoleWorker))
				{
					jobs.GET("/available", h.Job.Available)
					jobs.GET("/mine", h.Job.Mine)
					jobs.POST("/:id/accept", h.Job.Accept)
					jobs.POST("/:id/status", h.Job.UpdateStatus)
				}
			}

			// 目录 / 标签 / 维修工（管理员）
			admin := authorized.Group("", middleware.RequireRole(entity.RoleAdmin))
			{
				admin.GET("/items", h.Catalog.ListItems)
				admin.POST("/items", h.Catalog.CreateItem)
				admin.PUT("/items/:id", h.Catalog.UpdateItem)
				admin.DELETE("/items/:id", h.Catalog.DeleteItem)

				admin.GET("/products", h.Catalog.ListProducts)
				admin.POST("/products", h.Catalog.CreateProduct)
				admin.PUT("/products/:id", h.Catalog.UpdateProduct)
				admin.DELETE("/products/:id", h.Catalog.DeleteProduct)

				admin.GET("/workers", h.Catalog.ListWorkers)
				admin.POST("/workers", h.Catalog.CreateWorker)
				admin.PUT("/workers/:id", h.Catalog.UpdateWorker)
				admin.DELETE("/workers/:id", h.Catalog.DeleteWorker)

				admin.GET("/admin/stats", h.Admin.Stats)
				admin.GET("/admin/records/export", h.Admin.ExportRecords)
				admin.GET("/admin/activity", h.Admin.Activity)
			}
		}
	}
}
