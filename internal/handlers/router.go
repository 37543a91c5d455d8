package handlers

import (
	"github.com/eims-app/apiserver/internal/services"
	"github.com/eims-app/apiserver/internal/storage"
	"github.com/eims-app/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// UsersRouter registers the /users routes on r.
func UsersRouter(r chi.Router, authService *services.AuthService, userService *services.UserService, photos *storage.PhotoStore, baseURL string) {
	authHandler := NewAuthHandler(authService, baseURL)
	userHandler := NewUserHandler(userService, photos)

	r.Post("/signup", authHandler.Signup)
	r.Post("/login", authHandler.Login)
	r.Get("/logout", authHandler.Logout)
	r.Post("/forgotPassword", authHandler.ForgotPassword)
	r.Patch("/resetPassword/{token}", authHandler.ResetPassword)
	r.With(ResolveIdentityIfPresent(authService)).Get("/session", authHandler.Session)

	r.Group(func(r chi.Router) {
		r.Use(Protect(authService))

		r.Patch("/updateMyPassword", authHandler.UpdatePassword)
		r.Get("/me", userHandler.GetMe)
		r.Patch("/updateMe", userHandler.UpdateMe)
		r.Delete("/deleteMe", userHandler.DeleteMe)
		if photos != nil {
			r.Put("/me/photo", userHandler.UploadPhoto)
			r.Get("/me/photo", userHandler.GetPhoto)
		}

		r.Group(func(r chi.Router) {
			r.Use(RestrictTo(types.RoleAdmin))

			r.Get("/", userHandler.ListUsers)
			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/", userHandler.GetUser)
				r.Patch("/", userHandler.UpdateUser)
				r.Delete("/", userHandler.DeleteUser)
			})
		})
	})
}
